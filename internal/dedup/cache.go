// Package dedup implements the time-windowed, size-bounded cache that drops
// webhook redeliveries. Meta retries aggressively with at-least-once
// semantics; this cache is what keeps one Instagram event from becoming
// several Telegram messages.
package dedup

import (
	"sync"
	"time"
)

const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 5000

	// evictTarget is the fill ratio cleanup shrinks to once MaxSize is hit.
	evictTarget = 0.8
)

type Cache struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time

	// order records insertion order for the cap-eviction safety valve.
	// It may contain keys already removed by the TTL pass; eviction skips
	// those. Not a strict LRU, and doesn't need to be.
	order []string

	now func() time.Time
}

func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		ttl:  ttl,
		max:  maxSize,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Seen reports whether key was already recorded; on a miss it records the key
// first. Check-and-insert holds the lock, so concurrent webhook deliveries
// can never both observe a miss for the same key.
func (c *Cache) Seen(key string) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return true
	}
	c.seen[key] = c.now()
	c.order = append(c.order, key)
	return false
}

// Forget drops a key so a later redelivery is processed again. Used when
// restoring "already forwarded" turns out to be wrong (delivery failed hard).
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	delete(c.seen, key)
	c.mu.Unlock()
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Cleanup removes entries older than the TTL. If the cache still exceeds
// its cap after that, it evicts oldest-inserted entries down to 80% of the cap.
// Called after every non-duplicate insertion; O(size) with size capped.
func (c *Cache) Cleanup() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, at := range c.seen {
		if now.Sub(at) > c.ttl {
			delete(c.seen, key)
		}
	}

	if len(c.seen) > c.max {
		target := int(float64(c.max) * evictTarget)
		i := 0
		for ; i < len(c.order) && len(c.seen) > target; i++ {
			delete(c.seen, c.order[i])
		}
		c.order = append([]string(nil), c.order[i:]...)
	} else if len(c.order) > 2*len(c.seen) {
		// Compact tombstones left behind by TTL removals.
		live := c.order[:0]
		for _, key := range c.order {
			if _, ok := c.seen[key]; ok {
				live = append(live, key)
			}
		}
		c.order = live
	}
}
