package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryCacheMissThenHit(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if _, found, err := c.Get(ctx, "fp-1", Props{}); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}

	if err := c.Update(ctx, "fp-1", Props{}, "data-1"); err != nil {
		t.Fatal(err)
	}

	id, found, err := c.Get(ctx, "fp-1", Props{})
	if err != nil || !found || id != "data-1" {
		t.Fatalf("expected hit data-1, got id=%q found=%v err=%v", id, found, err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
}

func TestRedisCacheMissThenHit(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(RedisConfig{RedisURL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if _, found, err := c.Get(ctx, "fp-2", Props{}); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}

	if err := c.Update(ctx, "fp-2", Props{}, "data-2"); err != nil {
		t.Fatal(err)
	}

	id, found, err := c.Get(ctx, "fp-2", Props{})
	if err != nil || !found || id != "data-2" {
		t.Fatalf("expected hit data-2, got id=%q found=%v err=%v", id, found, err)
	}
}

func TestRedisCacheVolatileExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(RedisConfig{RedisURL: "redis://" + mr.Addr(), VolatileTTL: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Update(ctx, "fp-vol", Props{Volatile: true}, "data-vol"); err != nil {
		t.Fatal(err)
	}
	// VolatileTTL of 0 here means "no expiry configured"; presence is
	// still required immediately after write.
	if _, found, err := c.Get(ctx, "fp-vol", Props{Volatile: true}); err != nil || !found {
		t.Fatalf("expected immediate hit, got found=%v err=%v", found, err)
	}

	// With a VolatileTTL configured, a volatile entry is gone once the TTL
	// has elapsed.
	expiring, err := NewRedisCache(RedisConfig{RedisURL: "redis://" + mr.Addr(), KeyPrefix: "expiring:", VolatileTTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer expiring.Close()
	if err := expiring.Update(ctx, "fp-vol", Props{Volatile: true}, "data-vol"); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)
	if _, found, err := expiring.Get(ctx, "fp-vol", Props{Volatile: true}); err != nil || found {
		t.Fatalf("expected volatile entry to expire after its TTL, got found=%v err=%v", found, err)
	}
}

func TestBoltCachePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forgecache.bolt")
	ctx := context.Background()

	c1, err := NewBoltCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c1.Update(ctx, "fp-3", Props{}, "data-3"); err != nil {
		t.Fatal(err)
	}
	if err := c1.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := NewBoltCache(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	id, found, err := c2.Get(ctx, "fp-3", Props{})
	if err != nil || !found || id != "data-3" {
		t.Fatalf("expected hit data-3 after reopen, got id=%q found=%v err=%v", id, found, err)
	}

	if _, found, err := c2.Get(ctx, "fp-missing", Props{}); err != nil || found {
		t.Fatalf("expected miss for unknown fingerprint, got found=%v err=%v", found, err)
	}
}
