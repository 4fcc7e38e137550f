// Package pending implements the Pending-Results Cache (component D):
// in-process deduplication of concurrent requests for the same
// fingerprint, so that N simultaneous callers asking for the same key
// within the same build trigger exactly one Compute. It is distinct
// from, and sits in front of, the persistent Function Cache.
package pending

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache deduplicates concurrent in-flight computations by fingerprint
// and, optionally, expires completed entries after a fixed interval so
// a long-lived engine process does not retain singleflight bookkeeping
// for keys nobody is asking about anymore.
type Cache struct {
	group singleflight.Group

	expiry time.Duration

	mu       sync.Mutex
	lastDone map[string]time.Time
	stopCh   chan struct{}
}

// New returns a Cache with no expiration: completed entries are
// forgotten as soon as singleflight releases them, which is already
// immediate once Do returns. Expiry only bounds the lastDone
// bookkeeping itself, and a Cache built with New never sweeps it.
func New() *Cache {
	return &Cache{lastDone: make(map[string]time.Time)}
}

// NewWithExpiry returns a Cache that additionally runs a background
// sweep every interval, dropping lastDone bookkeeping older than
// interval. This bounds memory for engines that see a very large
// number of distinct fingerprints over their lifetime; it has no
// effect on deduplication correctness, since singleflight.Group already
// releases each call's state the moment the call completes.
func NewWithExpiry(interval time.Duration) *Cache {
	c := &Cache{
		lastDone: make(map[string]time.Time),
		expiry:   interval,
		stopCh:   make(chan struct{}),
	}
	if interval > 0 {
		go c.sweepLoop(interval)
	}
	return c
}

// ValueFor runs fn if no call for fingerprint is already in flight,
// otherwise blocks until that in-flight call completes and returns its
// result. shared reports whether the caller received a result computed
// for someone else.
func (c *Cache) ValueFor(fingerprint string, fn func() (any, error)) (value any, shared bool, err error) {
	value, err, shared = c.group.Do(fingerprint, fn)
	c.mu.Lock()
	if c.lastDone != nil {
		c.lastDone[fingerprint] = time.Now()
	}
	c.mu.Unlock()
	return value, shared, err
}

// Forget removes the completion record for fingerprint and tells
// singleflight to forget any in-flight call for it, so the next
// ValueFor call starts a fresh invocation instead of joining that call.
// A ValueFor call made after a previous one completed always runs fn
// again, with or without Forget.
func (c *Cache) Forget(fingerprint string) {
	c.group.Forget(fingerprint)
	c.mu.Lock()
	delete(c.lastDone, fingerprint)
	c.mu.Unlock()
}

// Stop halts the background sweep goroutine started by NewWithExpiry.
// It is a no-op for a Cache built with New.
func (c *Cache) Stop() {
	if c.stopCh != nil {
		close(c.stopCh)
	}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep(interval)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, last := range c.lastDone {
		if last.Before(cutoff) {
			delete(c.lastDone, fp)
		}
	}
}
