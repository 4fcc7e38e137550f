package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evalgo/forgecache/cas"
	"github.com/evalgo/forgecache/engineerrors"
	"github.com/evalgo/forgecache/fingerprint"
	"github.com/evalgo/forgecache/tracing"
)

// computeTyped is the Typed Caching Function (F): it fingerprints key,
// consults the Function Cache, loads and validates a hit from the CAS,
// and otherwise drives key's Compute, validates, stores, and publishes
// the result, per §4.5.
func computeTyped(ctx context.Context, e *Engine, key Key, engCtx *Context) (Value, error) {
	fp, path, err := fingerprintKey(key, engCtx)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartCompute(ctx, engCtx.Tracer, keyPrefix(path), path)
	defer span.End()

	props := cacheProps(key, path)

	if dataID, found, err := engCtx.Cache.Get(ctx, fp, props); err != nil {
		return nil, fmt.Errorf("function cache get for %s: %w", path, err)
	} else if found {
		value, ok, err := tryLoadCached(ctx, e, key, cas.DataID(dataID), engCtx)
		if err != nil {
			if key.RecomputeOnCacheFailure() {
				engCtx.Logger.WithError(err).WithField("cachePath", path).Debug("cached value failed to load, recomputing")
			} else {
				return nil, err
			}
		} else if ok {
			tracing.RecordValue(span, fmt.Sprintf("%v", value))
			return value, nil
		}
		// ok==false, err==nil means either the CAS object is gone, or
		// validate-cached rejected the value, it could not be fixed, and
		// recompute-on-cache-failure is set: fall through to a full
		// recompute below.
	}

	iface := newInterface(ctx, e, key, fp, path)
	value, err := key.Compute(iface, engCtx)
	if err != nil {
		return nil, wrapComputeError(key, path, iface, err)
	}

	if !validate(key, value) {
		return nil, &engineerrors.InconsistentValue{Msg: fmt.Sprintf("freshly computed value for %s failed validation", path)}
	}

	resultID, err := storeValue(ctx, e.store, value, iface.RequestedCacheKeyPaths())
	if err != nil {
		return nil, fmt.Errorf("storing computed value for %s: %w", path, err)
	}
	if err := engCtx.Cache.Update(ctx, fp, props, string(resultID)); err != nil {
		return nil, fmt.Errorf("updating function cache for %s: %w", path, err)
	}

	tracing.RecordValue(span, fmt.Sprintf("%v", value))
	return value, nil
}

// tryLoadCached loads and decodes the CAS object dataID points at,
// applying §4.5 step 2's validate/fix-cached dance. ok is false (with a
// nil error) precisely when the caller should fall through to a full
// recompute: the CAS no longer holds dataID, or recompute-on-cache-failure
// covers a rejected value that has no fixer or that fix-cached could not
// repair.
func tryLoadCached(ctx context.Context, e *Engine, key Key, dataID cas.DataID, engCtx *Context) (Value, bool, error) {
	obj, err := e.store.Get(ctx, dataID)
	if errors.Is(err, cas.ErrNotFound) {
		// §4.2: a DataID the function cache returned but the CAS no
		// longer has is indistinguishable from a cache miss; recompute
		// unconditionally, regardless of RecomputeOnCacheFailure.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading cached object for %s: %w", key.Name(), err)
	}

	payload, _, err := decodeEnvelope(obj.Data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding envelope for %s: %w", key.Name(), err)
	}

	value, err := key.DecodeValue(payload, obj.Refs)
	if err != nil {
		return nil, false, fmt.Errorf("decoding cached value for %s: %w", key.Name(), err)
	}

	if validate(key, value) {
		return value, true, nil
	}

	fixer, ok := key.(CacheFixer)
	if !ok {
		if key.RecomputeOnCacheFailure() {
			return nil, false, nil
		}
		return nil, false, &engineerrors.InconsistentValue{Msg: fmt.Sprintf("cached value for %s failed validation and has no fixer", key.Name())}
	}

	fp, path, fpErr := fingerprintKey(key, engCtx)
	if fpErr != nil {
		return nil, false, fpErr
	}
	iface := newInterface(ctx, e, key, fp, path)
	fixed, ok := fixer.FixCached(value, iface, engCtx)
	if !ok {
		if key.RecomputeOnCacheFailure() {
			return nil, false, nil
		}
		return nil, false, &engineerrors.InconsistentValue{Msg: fmt.Sprintf("cached value for %s failed validation and could not be fixed", key.Name())}
	}

	resultID, err := storeValue(ctx, e.store, fixed, iface.RequestedCacheKeyPaths())
	if err != nil {
		return nil, false, fmt.Errorf("storing fixed value for %s: %w", key.Name(), err)
	}
	if err := engCtx.Cache.Update(ctx, fp, cacheProps(key, path), string(resultID)); err != nil {
		return nil, false, fmt.Errorf("updating function cache after fix for %s: %w", key.Name(), err)
	}
	return fixed, true, nil
}

// validate runs a key's CacheValidator if it implements one; keys that
// don't are always considered valid, per §4.1's CacheValidator doc.
func validate(key Key, v Value) bool {
	validator, ok := key.(CacheValidator)
	if !ok {
		return true
	}
	return validator.ValidateCached(v)
}

// storeValue encodes value's payload, wraps it in the internal
// envelope alongside requestedCacheKeyPaths, and writes the resulting
// object to the CAS, returning its DataID.
func storeValue(ctx context.Context, store cas.Store, value Value, requestedCacheKeyPaths []string) (cas.DataID, error) {
	payload, err := value.Encode()
	if err != nil {
		return "", fmt.Errorf("encoding value payload: %w", err)
	}
	envelopeData, err := encodeEnvelope(payload, requestedCacheKeyPaths)
	if err != nil {
		return "", err
	}
	return store.Put(ctx, cas.Object{Refs: value.CASRefs(), Data: envelopeData})
}

// wrapComputeError implements §4.5 step 4: wraps a user Compute
// failure as ValueComputationError, carrying the requested cache-key
// paths observed before the failure; a failure to encode the key for
// that wrapper itself surfaces as KeyEncodingError instead.
func wrapComputeError(key Key, path string, iface *Interface, underlying error) error {
	data, err := fingerprint.CanonicalJSON(key)
	if err != nil {
		return &engineerrors.KeyEncodingError{EncodingErr: err, UnderlyingErr: underlying}
	}
	encoded := string(data)
	return &engineerrors.ValueComputationError{
		KeyPrefix:              keyPrefix(path),
		Key:                    encoded,
		Underlying:             underlying,
		RequestedCacheKeyPaths: iface.RequestedCacheKeyPaths(),
	}
}

// keyPrefix extracts the leading "<name>/<aggregated-version>" segment
// of a cache path for use as ValueComputationError.KeyPrefix and the
// tracing span's keyPrefix attribute.
func keyPrefix(path string) string {
	for i, c := range path {
		if c != '/' {
			continue
		}
		for j := i + 1; j < len(path); j++ {
			if path[j] == '/' {
				return path[:j]
			}
		}
		return path
	}
	return path
}

// newBuildID generates a fresh identifier for one top-level build,
// mixed into cache paths only when request-only caching is enabled
// (§4.7, §9 "request-only build scoping").
func newBuildID() string {
	return uuid.NewString()
}
