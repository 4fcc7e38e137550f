package engine

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evalgo/forgecache/cache"
	"github.com/evalgo/forgecache/cas"
	"github.com/evalgo/forgecache/engineerrors"
	"github.com/evalgo/forgecache/fingerprint"
	"github.com/evalgo/forgecache/registry"
)

// baseKey supplies the declarations most fixtures here don't care
// about; concrete fixtures embed it and override what they exercise.
type baseKey struct{}

func (baseKey) AggregatedVersion() int                         { return 1 }
func (baseKey) VersionDependencies() []string                  { return nil }
func (baseKey) ActionDependencies() []string                   { return nil }
func (baseKey) ConfigurationSelectors() []fingerprint.Selector { return nil }
func (baseKey) ResourceEntitlements() []registry.ResourceKey   { return nil }
func (baseKey) Hint() string                                   { return "" }
func (baseKey) Volatile() bool                                 { return false }
func (baseKey) RecomputeOnCacheFailure() bool                  { return false }

func decodeIntValue(data []byte, _ []cas.DataID) (Value, error) {
	var v intValue
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// undeclaredParentKey requests a child type it never declared,
// exercising the UnexpressedKeyDependency check.
type undeclaredParentKey struct{ baseKey }

func (undeclaredParentKey) Name() string                 { return "UndeclaredParent" }
func (undeclaredParentKey) Fields() []fingerprint.Field  { return nil }
func (k undeclaredParentKey) Compute(iface *Interface, ctx *Context) (Value, error) {
	return iface.Request(sumKey{A: 1, B: 1}, false, ctx)
}
func (undeclaredParentKey) DecodeValue(data []byte, refs []cas.DataID) (Value, error) {
	return decodeIntValue(data, refs)
}

func TestP7UnexpressedDependency(t *testing.T) {
	e := New(cas.NewMemoryStore())

	_, err := e.Build(context.Background(), undeclaredParentKey{}, emptyConfig(), time.Time{})
	require.Error(t, err)

	var unexpressed *engineerrors.UnexpressedKeyDependency
	require.ErrorAs(t, engineerrors.Root(err), &unexpressed)
	require.Equal(t, "UndeclaredParent", unexpressed.From)
	require.Equal(t, "SumKey", unexpressed.To)
}

// fixableKey validates that its value is non-negative and can repair a
// rejected cached value instead of recomputing.
type fixableKey struct {
	baseKey
	calls *int32
	fixes *int32
}

func (fixableKey) Name() string { return "FixableKey" }
func (fixableKey) Fields() []fingerprint.Field {
	return []fingerprint.Field{{Name: "id", Value: "fixable"}}
}
func (k fixableKey) Compute(iface *Interface, ctx *Context) (Value, error) {
	atomic.AddInt32(k.calls, 1)
	return intValue{N: 1}, nil
}
func (fixableKey) DecodeValue(data []byte, refs []cas.DataID) (Value, error) {
	return decodeIntValue(data, refs)
}
func (fixableKey) ValidateCached(v Value) bool {
	iv, ok := v.(intValue)
	return ok && iv.N >= 0
}
func (k fixableKey) FixCached(v Value, iface *Interface, ctx *Context) (Value, bool) {
	atomic.AddInt32(k.fixes, 1)
	return intValue{N: 1}, true
}

// poisonCacheEntry points key's function-cache entry at a fresh CAS
// object holding data as the envelope's value payload (or raw garbage
// when rawEnvelope is set), simulating an entry that went stale or was
// written by a broken producer.
func poisonCacheEntry(t *testing.T, store cas.Store, fnCache cache.Cache, key Key, data []byte, rawEnvelope bool) {
	t.Helper()
	ctx := context.Background()

	payload := data
	if !rawEnvelope {
		var err error
		payload, err = encodeEnvelope(data, nil)
		require.NoError(t, err)
	}
	id, err := store.Put(ctx, cas.Object{Data: payload})
	require.NoError(t, err)

	fp, path, err := fingerprintKey(key, &Context{ConfigurationInputs: map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, fnCache.Update(ctx, fp, cache.Props{CachePath: path}, string(id)))
}

func TestFixCachedRepairsRejectedCachedValue(t *testing.T) {
	store := cas.NewMemoryStore()
	fnCache := cache.NewMemoryCache()
	e := New(store, WithCache(fnCache))

	var calls, fixes int32
	key := fixableKey{calls: &calls, fixes: &fixes}

	v, err := e.Build(context.Background(), key, emptyConfig(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, intValue{N: 1}, v)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// Replace the cached value with one the validator rejects.
	bad, err := intValue{N: -1}.Encode()
	require.NoError(t, err)
	poisonCacheEntry(t, store, fnCache, key, bad, false)

	v, err = e.Build(context.Background(), key, emptyConfig(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, intValue{N: 1}, v)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "fix-cached must repair without recomputing")
	require.EqualValues(t, 1, atomic.LoadInt32(&fixes))

	// The repaired value was written back; a third build needs neither
	// compute nor fix.
	_, err = e.Build(context.Background(), key, emptyConfig(), time.Time{})
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	require.EqualValues(t, 1, atomic.LoadInt32(&fixes))
}

// strictKey validates like fixableKey but has no fixer and never
// recomputes on cache failure.
type strictKey struct {
	baseKey
	calls *int32
}

func (strictKey) Name() string { return "StrictKey" }
func (strictKey) Fields() []fingerprint.Field {
	return []fingerprint.Field{{Name: "id", Value: "strict"}}
}
func (k strictKey) Compute(iface *Interface, ctx *Context) (Value, error) {
	atomic.AddInt32(k.calls, 1)
	return intValue{N: 1}, nil
}
func (strictKey) DecodeValue(data []byte, refs []cas.DataID) (Value, error) {
	return decodeIntValue(data, refs)
}
func (strictKey) ValidateCached(v Value) bool {
	iv, ok := v.(intValue)
	return ok && iv.N >= 0
}

func TestInvalidCachedValueWithoutFixerPropagates(t *testing.T) {
	store := cas.NewMemoryStore()
	fnCache := cache.NewMemoryCache()
	e := New(store, WithCache(fnCache))

	var calls int32
	key := strictKey{calls: &calls}

	_, err := e.Build(context.Background(), key, emptyConfig(), time.Time{})
	require.NoError(t, err)

	bad, err := intValue{N: -1}.Encode()
	require.NoError(t, err)
	poisonCacheEntry(t, store, fnCache, key, bad, false)

	_, err = e.Build(context.Background(), key, emptyConfig(), time.Time{})
	var inconsistent *engineerrors.InconsistentValue
	require.ErrorAs(t, err, &inconsistent)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "no recompute when recompute-on-cache-failure is off")
}

// lenientKey is strictKey with recompute-on-cache-failure enabled.
type lenientKey struct {
	baseKey
	calls *int32
}

func (lenientKey) Name() string { return "LenientKey" }
func (lenientKey) Fields() []fingerprint.Field {
	return []fingerprint.Field{{Name: "id", Value: "lenient"}}
}
func (lenientKey) RecomputeOnCacheFailure() bool { return true }
func (k lenientKey) Compute(iface *Interface, ctx *Context) (Value, error) {
	atomic.AddInt32(k.calls, 1)
	return intValue{N: 1}, nil
}
func (lenientKey) DecodeValue(data []byte, refs []cas.DataID) (Value, error) {
	return decodeIntValue(data, refs)
}
func (lenientKey) ValidateCached(v Value) bool {
	iv, ok := v.(intValue)
	return ok && iv.N >= 0
}

func TestRecomputeOnCacheFailureCoversValidationAndDecode(t *testing.T) {
	store := cas.NewMemoryStore()
	fnCache := cache.NewMemoryCache()
	e := New(store, WithCache(fnCache))

	var calls int32
	key := lenientKey{calls: &calls}

	_, err := e.Build(context.Background(), key, emptyConfig(), time.Time{})
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// A cached value the validator rejects, with no fixer: falls
	// through to recompute.
	bad, err := intValue{N: -1}.Encode()
	require.NoError(t, err)
	poisonCacheEntry(t, store, fnCache, key, bad, false)

	v, err := e.Build(context.Background(), key, emptyConfig(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, intValue{N: 1}, v)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))

	// A cached object that is not even a valid envelope: same flag,
	// same fallthrough.
	poisonCacheEntry(t, store, fnCache, key, []byte("not an envelope"), true)

	v, err = e.Build(context.Background(), key, emptyConfig(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, intValue{N: 1}, v)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

// brokenKey computes a value its own validator rejects.
type brokenKey struct{ baseKey }

func (brokenKey) Name() string { return "BrokenKey" }
func (brokenKey) Fields() []fingerprint.Field {
	return []fingerprint.Field{{Name: "id", Value: "broken"}}
}
func (brokenKey) Compute(iface *Interface, ctx *Context) (Value, error) {
	return intValue{N: -1}, nil
}
func (brokenKey) DecodeValue(data []byte, refs []cas.DataID) (Value, error) {
	return decodeIntValue(data, refs)
}
func (brokenKey) ValidateCached(v Value) bool {
	iv, ok := v.(intValue)
	return ok && iv.N >= 0
}

func TestFreshComputeFailingValidationIsFatal(t *testing.T) {
	store := cas.NewMemoryStore()
	fnCache := cache.NewMemoryCache()
	e := New(store, WithCache(fnCache))

	_, err := e.Build(context.Background(), brokenKey{}, emptyConfig(), time.Time{})
	var inconsistent *engineerrors.InconsistentValue
	require.ErrorAs(t, err, &inconsistent)
	require.Equal(t, 0, fnCache.Len(), "a rejected fresh value must not be published")
}

// failingKey's Compute errors after one successful child request,
// exercising ValueComputationError's captured cache-path set.
type failingKey struct{ baseKey }

func (failingKey) Name() string                  { return "FailingKey" }
func (failingKey) VersionDependencies() []string { return []string{"SumKey"} }
func (failingKey) Fields() []fingerprint.Field   { return nil }
func (k failingKey) Compute(iface *Interface, ctx *Context) (Value, error) {
	if _, err := iface.Request(sumKey{A: 1, B: 2}, false, ctx); err != nil {
		return nil, err
	}
	return nil, errAlwaysFails
}
func (failingKey) DecodeValue(data []byte, refs []cas.DataID) (Value, error) {
	return decodeIntValue(data, refs)
}

var errAlwaysFails = &engineerrors.InconsistentValue{Msg: "synthetic compute failure"}

func TestComputeFailureWrapsWithRequestedPaths(t *testing.T) {
	e := New(cas.NewMemoryStore())

	_, err := e.Build(context.Background(), failingKey{}, emptyConfig(), time.Time{})
	require.Error(t, err)

	var vce *engineerrors.ValueComputationError
	require.ErrorAs(t, err, &vce)
	require.Equal(t, "FailingKey/1", vce.KeyPrefix)
	require.Len(t, vce.RequestedCacheKeyPaths, 1, "the successful child request's cache path must be recorded")
	require.Same(t, errAlwaysFails, engineerrors.Root(err))
}
