package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/evalgo/forgecache/action"
	"github.com/evalgo/forgecache/cache"
	"github.com/evalgo/forgecache/cas"
	"github.com/evalgo/forgecache/engineerrors"
	"github.com/evalgo/forgecache/graph"
	"github.com/evalgo/forgecache/logging"
	"github.com/evalgo/forgecache/pending"
	"github.com/evalgo/forgecache/registry"
	"github.com/evalgo/forgecache/tracing"
)

// Engine is the top-level coordinator (component H): it owns the
// dependency graph (B), function cache (C), pending-results cache (D),
// action executor (I), and resource registry (J), and exposes the
// single build(key) -> value entrypoint everything else is reached
// through.
type Engine struct {
	store     cas.Store
	cacheImpl cache.Cache
	graph     *graph.Graph
	pend      *pending.Cache
	executors *action.Registry
	resources *registry.Service
	logger    *logrus.Entry
	tracer    trace.TracerProvider

	requestOnlyCaching bool
}

// Option configures optional Engine fields; New applies sensible
// zero-value-safe defaults for anything an Option does not set.
type Option func(*Engine)

// WithCache overrides the default in-memory Function Cache.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) { e.cacheImpl = c }
}

// WithExecutors overrides the default empty Action Executor registry.
func WithExecutors(r *action.Registry) Option {
	return func(e *Engine) { e.executors = r }
}

// WithResources overrides the default empty Ruleset/Resource registry.
func WithResources(s *registry.Service) Option {
	return func(e *Engine) { e.resources = s }
}

// WithLogger overrides the default discarding logger.
func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer overrides the default no-op TracerProvider.
func WithTracer(t trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithPendingExpiry configures the Pending-Results Cache's optional
// partial-result expiration (§4.3), bounding dedup bookkeeping memory
// for engines that see many distinct fingerprints over their lifetime.
func WithPendingExpiry(interval time.Duration) Option {
	return func(e *Engine) { e.pend = pending.NewWithExpiry(interval) }
}

// WithRequestOnlyCaching enables the §9 "request-only build scoping"
// opt-in: every cache path built under a Build call is scoped to that
// call's BuildID, so entries from one top-level build never satisfy
// another.
func WithRequestOnlyCaching() Option {
	return func(e *Engine) { e.requestOnlyCaching = true }
}

// New returns an Engine backed by store, with an in-memory Function
// Cache, empty executor and resource registries, and a discarding
// logger unless overridden by opts.
func New(store cas.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		cacheImpl: cache.NewMemoryCache(),
		graph:     graph.New(),
		pend:      pending.New(),
		executors: action.NewRegistry(),
		resources: registry.NewService(),
		logger:    logging.Discard(),
		tracer:    tracing.NewProvider(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build is the engine's public entrypoint (§4.7): it assembles a fresh
// per-invocation Context carrying this Engine's ambient collaborators,
// a unique BuildID, the caller's configuration inputs, and optional
// deadline, then drives key's evaluation (deduplicated, cached,
// recursively resolving any child Request calls through this same
// Engine).
func (e *Engine) Build(ctx context.Context, key Key, configurationInputs map[string]any, deadline time.Time) (Value, error) {
	engCtx := &Context{
		Store:               e.store,
		Cache:               e.cacheImpl,
		Executors:           e.executors,
		Resources:           e.resources,
		Logger:              e.logger,
		Tracer:              e.tracer,
		BuildID:             newBuildID(),
		Deadline:            deadline,
		ConfigurationInputs: configurationInputs,
		RequestOnlyCaching:  e.requestOnlyCaching,
	}
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	return e.build(ctx, key, engCtx)
}

// build is the engine's internal resolution step, reused both by the
// public Build entrypoint and by Interface.Request for child keys: it
// fingerprints key and routes through the Pending-Results Cache so
// concurrent requests for the same fingerprint within one process
// observe exactly one invocation of the Typed Caching Function (§4.3,
// P4).
func (e *Engine) build(ctx context.Context, key Key, engCtx *Context) (Value, error) {
	fp, path, err := fingerprintKey(key, engCtx)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{"fingerprint": fp, "cachePath": path}).Debug("build requested")

	result, _, err := e.pend.ValueFor(fp, func() (any, error) {
		return computeTyped(ctx, e, key, engCtx)
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	value, ok := result.(Value)
	if !ok {
		return nil, &engineerrors.InvalidValueType{Name: key.Name()}
	}
	return value, nil
}
