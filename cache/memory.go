package cache

import (
	"context"
	"sync"
)

// MemoryCache is the default in-memory Function Cache: a mutex-guarded
// map from fingerprint to DataID, with no eviction. It satisfies every
// process-lifetime build but never survives a restart; use RedisCache or
// BoltCache when cross-invocation reuse is required.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]string)}
}

func (c *MemoryCache) Get(_ context.Context, fingerprint string, _ Props) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.entries[fingerprint]
	return id, ok, nil
}

func (c *MemoryCache) Update(_ context.Context, fingerprint string, _ Props, dataID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = dataID
	return nil
}

// Len reports the number of entries currently cached; used by tests that
// assert cache-population counts.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
