// Package engine implements the core evaluation loop (components E
// through H in SPEC_FULL.md's component lettering): the fingerprint
// builder, the typed caching function, the function interface handed
// to user compute code, and the top-level Engine that ties B-D, I and
// J together behind a single build(key) -> value entrypoint.
package engine

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/evalgo/forgecache/action"
	"github.com/evalgo/forgecache/cache"
	"github.com/evalgo/forgecache/cas"
	"github.com/evalgo/forgecache/fingerprint"
	"github.com/evalgo/forgecache/registry"
)

// Key is a user-defined unit of computation (§3). Implementations are
// expected to be small, serializable value types; the engine calls
// their methods to derive a fingerprint, check declared dependencies,
// and ultimately run Compute.
type Key interface {
	// Name is the key type's stable identifier, the first path segment
	// of its cache path.
	Name() string
	// AggregatedVersion is the sum of Version across the transitive
	// closure over VersionDependencies, computed by the key author from
	// their own static version table; the engine does not derive it.
	AggregatedVersion() int
	// VersionDependencies names the key types this key type is allowed
	// to Request as a child; Request fails UnexpressedKeyDependency for
	// any type not listed here (or equal to this key's own Name).
	VersionDependencies() []string
	// ActionDependencies names the action types this key type is
	// allowed to Spawn.
	ActionDependencies() []string
	// ConfigurationSelectors lists the literal/prefix tokens selecting
	// entries from ctx.ConfigurationInputs that participate in this
	// key's fingerprint and are visible to Compute.
	ConfigurationSelectors() []fingerprint.Selector
	// ResourceEntitlements lists the external resources this key may
	// read via Interface.Resource.
	ResourceEntitlements() []registry.ResourceKey
	// Hint is an optional short human-readable summary folded into the
	// cache path when the key body must be hashed.
	Hint() string
	// Fields flattens the key's own data into friendly-encoder tokens.
	Fields() []fingerprint.Field
	// Volatile marks this key's cache entries as eligible for the
	// Function Cache's volatile-entry policy (e.g. TTL expiry).
	Volatile() bool
	// RecomputeOnCacheFailure controls whether a cache deserialization
	// or validation failure falls through to recomputation instead of
	// propagating an error.
	RecomputeOnCacheFailure() bool
	// Compute runs this key's user-supplied evaluation logic.
	Compute(iface *Interface, ctx *Context) (Value, error)
	// DecodeValue is the decode half of this key type's codec,
	// reconstructing a Value from the opaque (refs, bytes) pair the
	// engine read back from the CAS.
	DecodeValue(data []byte, refs []cas.DataID) (Value, error)
}

// CacheValidator is implemented by keys that need to confirm a cached
// or freshly computed value still holds before it is returned; a key
// that doesn't implement it is always considered valid.
type CacheValidator interface {
	ValidateCached(v Value) bool
}

// CacheFixer is implemented by keys that can repair a value a
// validator rejected instead of forcing a full recompute.
type CacheFixer interface {
	FixCached(v Value, iface *Interface, ctx *Context) (Value, bool)
}

// Value is a key's serializable result: an ordered list of CAS refs to
// child objects, plus an opaque, key-type-specific encoding of its
// payload.
type Value interface {
	CASRefs() []cas.DataID
	Encode() ([]byte, error)
}

// Context is the ambient state threaded through every suspendable
// call, following the Design Notes' "explicit Context struct with
// typed fields" resolution: every suspension point (request, CAS I/O,
// cache I/O, spawn, process wait) takes a *Context by reference rather
// than reaching into a hidden global.
type Context struct {
	Store        cas.Store
	Cache        cache.Cache
	Executors    *action.Registry
	Resources    *registry.Service
	Logger       *logrus.Entry
	Tracer       trace.TracerProvider
	BuildID      string
	Deadline     time.Time
	ConfigurationInputs map[string]any
	// RequestOnlyCaching scopes every cache path built while this
	// Context is in force to this Context's BuildID (§4.7, §9
	// "request-only build scoping"): entries written during one
	// top-level build never satisfy a lookup from another.
	RequestOnlyCaching bool

	// ext holds truly heterogeneous per-build extensions (a streaming
	// log handler, a diagnostics gatherer, a tree materializer) that
	// don't warrant a dedicated typed field, keyed by a caller-chosen
	// type identifier.
	ext map[string]any
}

// WithExtension returns a shallow copy of ctx with key bound to value
// in its side map, used for the rare heterogeneous extension that has
// no natural home as a typed field.
func (ctx *Context) WithExtension(key string, value any) *Context {
	next := *ctx
	next.ext = make(map[string]any, len(ctx.ext)+1)
	for k, v := range ctx.ext {
		next.ext[k] = v
	}
	next.ext[key] = value
	return &next
}

// Extension looks up a value previously stashed with WithExtension.
func (ctx *Context) Extension(key string) (any, bool) {
	v, ok := ctx.ext[key]
	return v, ok
}

// WithReducedDeadline returns a shallow copy of ctx whose Deadline is
// no later than both ctx's existing deadline (if any) and now+d.
func (ctx *Context) WithReducedDeadline(d time.Duration) *Context {
	next := *ctx
	candidate := time.Now().Add(d)
	if next.Deadline.IsZero() || candidate.Before(next.Deadline) {
		next.Deadline = candidate
	}
	return &next
}
