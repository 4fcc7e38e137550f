package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures RedisCache, following the teacher's queue
// client's URL-from-env convention.
type RedisConfig struct {
	// RedisURL is a redis:// connection string; falls back to
	// FORGECACHE_REDIS_URL, then redis://localhost:6379/0.
	RedisURL string
	// KeyPrefix namespaces this cache's keys within a shared Redis.
	KeyPrefix string
	// VolatileTTL expires entries for keys whose Props.Volatile is true;
	// zero means volatile entries never expire. Non-volatile entries
	// are always written without a TTL.
	VolatileTTL time.Duration
}

// RedisCache is a Function Cache backend shared across engine processes,
// grounded on the teacher's Redis job-queue client construction.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache parses cfg.RedisURL (or its environment/default
// fallbacks) and returns a ready RedisCache.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	url := cfg.RedisURL
	if url == "" {
		url = os.Getenv("FORGECACHE_REDIS_URL")
	}
	if url == "" {
		url = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "forgecache:"
	}

	return &RedisCache{
		client: redis.NewClient(opts),
		prefix: prefix,
		ttl:    cfg.VolatileTTL,
	}, nil
}

func (c *RedisCache) key(fingerprint string) string {
	return c.prefix + fingerprint
}

func (c *RedisCache) Get(ctx context.Context, fingerprint string, _ Props) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(fingerprint)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", fingerprint, err)
	}
	return val, true, nil
}

func (c *RedisCache) Update(ctx context.Context, fingerprint string, props Props, dataID string) error {
	ttl := time.Duration(0)
	if props.Volatile {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, c.key(fingerprint), dataID, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", fingerprint, err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
