package engine

import (
	"context"
	"sync"

	"github.com/evalgo/forgecache/action"
	"github.com/evalgo/forgecache/engineerrors"
	"github.com/evalgo/forgecache/graph"
	"github.com/evalgo/forgecache/registry"
)

// Interface is the Function Interface (G): the handle a key's Compute
// receives, mediating child requests and action spawns and recording
// which cache paths it consulted.
type Interface struct {
	engine *Engine
	key    Key
	fp     string
	path   string
	// ctx is the stdlib context this Interface's Compute call is running
	// under, captured at construction time since Key.Compute only
	// receives the engine's own *Context (§9's "explicit Context
	// struct"); Request and Spawn need a context.Context to propagate
	// cancellation and deadlines into child builds and action executors.
	ctx context.Context

	mu                     sync.Mutex
	requestedCacheKeyPaths map[string]struct{}
}

func newInterface(ctx context.Context, e *Engine, key Key, fp, path string) *Interface {
	return &Interface{
		engine:                 e,
		key:                    key,
		fp:                     fp,
		path:                   path,
		ctx:                    ctx,
		requestedCacheKeyPaths: make(map[string]struct{}),
	}
}

// RequestedCacheKeyPaths returns the sorted-at-write-time set of cache
// paths this interface's Compute call has consulted so far, folded
// into the value envelope per §3 I5.
func (i *Interface) RequestedCacheKeyPaths() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.requestedCacheKeyPaths))
	for p := range i.requestedCacheKeyPaths {
		out = append(out, p)
	}
	return out
}

func (i *Interface) recordPath(path string) {
	i.mu.Lock()
	i.requestedCacheKeyPaths[path] = struct{}{}
	i.mu.Unlock()
}

// Request evaluates child through the same engine, enforcing that
// child's type was declared in this key's VersionDependencies (or is
// this key's own type, for self-recursive keys). The dependency-graph
// edge is held for the duration of the child's build so cycles are
// caught before they can deadlock.
func (i *Interface) Request(child Key, requireCacheHit bool, engCtx *Context) (Value, error) {
	if child.Name() != i.key.Name() && !containsString(i.key.VersionDependencies(), child.Name()) {
		return nil, &engineerrors.UnexpressedKeyDependency{From: i.key.Name(), To: child.Name()}
	}

	childFP, childPath, err := fingerprintKey(child, engCtx)
	if err != nil {
		return nil, err
	}
	i.recordPath(childPath)

	if requireCacheHit {
		_, found, err := engCtx.Cache.Get(i.ctx, childFP, cacheProps(child, childPath))
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, &engineerrors.MissingRequiredCacheEntry{CachePath: childPath}
		}
	}

	origin := graph.KeyHandle{Fingerprint: i.fp, Label: i.key.Name()}
	dest := graph.KeyHandle{Fingerprint: childFP, Label: child.Name()}
	if err := i.engine.graph.AddEdge(origin, dest); err != nil {
		return nil, err
	}
	defer i.engine.graph.RemoveEdge(origin, dest)

	return i.engine.build(i.ctx, child, engCtx)
}

// Spawn runs act through the engine's Action Executor, enforcing that
// act.Name was declared in this key's ActionDependencies.
func (i *Interface) Spawn(act action.Action, engCtx *Context) (action.Result, error) {
	if !containsString(i.key.ActionDependencies(), act.Name) {
		return action.Result{}, &engineerrors.UnexpressedKeyDependency{From: i.key.Name(), To: act.Name}
	}
	ctx := i.ctx
	if !engCtx.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, engCtx.Deadline)
		defer cancel()
	}
	return engCtx.Executors.Perform(ctx, act)
}

// Resource returns the resource bound to key, iff this key type
// declared an entitlement to it.
func (i *Interface) Resource(key registry.ResourceKey, engCtx *Context) (registry.Resource, bool) {
	entitled := false
	for _, r := range i.key.ResourceEntitlements() {
		if r == key {
			entitled = true
			break
		}
	}
	if !entitled {
		return registry.Resource{}, false
	}
	return engCtx.Resources.Resource(key)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
