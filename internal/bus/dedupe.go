package bus

import (
	"sync"
	"time"
)

// Dedupe defaults: entries older than the TTL may be reprocessed (missed
// dedup after expiry is acceptable); a fresh key must never be reported as
// seen, so keys always embed the owning account alongside the message id.
const (
	DefaultDedupeTTL       = 5 * time.Minute
	DefaultDedupeHighWater = 2000
)

// DedupeCache is a bounded, time-windowed set of recently seen message keys.
// It prevents reprocessing across reconnects and overlapping polls.
// Safe for concurrent use; multiple account loops may share one instance.
type DedupeCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	highWater int
	seen      map[string]time.Time
	now       func() time.Time
}

// NewDedupeCache creates a cache with the given TTL and high-water mark.
// Zero values fall back to the defaults.
func NewDedupeCache(ttl time.Duration, highWater int) *DedupeCache {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if highWater <= 0 {
		highWater = DefaultDedupeHighWater
	}
	return &DedupeCache{
		ttl:       ttl,
		highWater: highWater,
		seen:      make(map[string]time.Time),
		now:       time.Now,
	}
}

// Seen reports whether key was already recorded within the TTL window.
// If not, it atomically records the key with the current time and returns
// false. When the cache grows past the high-water mark it sweeps expired
// entries opportunistically; the sweep is O(n) and bounded by the mark.
func (c *DedupeCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if at, ok := c.seen[key]; ok {
		if now.Sub(at) < c.ttl {
			return true
		}
		// Expired entry: treat as new, refresh below.
	}

	if len(c.seen) > c.highWater {
		c.sweep(now)
	}

	c.seen[key] = now
	return false
}

// Len returns the current number of tracked keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// sweep removes entries older than the TTL. Caller holds the lock.
func (c *DedupeCache) sweep(now time.Time) {
	for k, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, k)
		}
	}
}
