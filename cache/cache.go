// Package cache implements the Function Cache (component C): a mapping
// from a key's stable fingerprint to a CAS DataID. The default backend
// is an in-memory map; cache.RedisCache and cache.BoltCache back the
// same Cache interface with a shared or a persistent store so results
// survive process restarts, per the engine's "transparently re-uses
// prior results across process invocations" requirement.
package cache

import (
	"context"
)

// Props exposes the facets of a key an implementation may need to
// partition storage: whether it is volatile, and its human-readable
// cache path (for sharding, logging, or selective expiry policies).
type Props struct {
	Volatile  bool
	CachePath string
}

// Cache is the Function Cache contract (§4.2). Get returning ("", false)
// and a missing CAS object are treated identically by the engine: both
// mean "recompute". Implementations may refuse writes, expire entries,
// or return stale data without violating the contract.
type Cache interface {
	// Get looks up the DataID stored for a key's stable fingerprint.
	Get(ctx context.Context, fingerprint string, props Props) (dataID string, found bool, err error)
	// Update records the DataID produced for a key's stable fingerprint.
	Update(ctx context.Context, fingerprint string, props Props, dataID string) error
}
