// Package dedupe tracks recently handled delivery keys so at-least-once
// redeliveries can be skipped instead of reapplied.
package dedupe

import (
	"sync"
	"time"
)

type entry struct {
	key string
	ts  time.Time
}

// Cache is a fixed-capacity set of delivery keys with a TTL window. Entries
// past the window count as unseen again, which is fine: every downstream
// write is an idempotent upsert, the cache only saves work.
type Cache struct {
	mu       sync.Mutex
	items    map[string]time.Time
	order    []entry
	capacity int
	ttl      time.Duration
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		items:    make(map[string]time.Time, capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Observe reports whether key was already seen inside the ttl window and
// records it either way, so the first caller gets false and duplicates get
// true.
func (c *Cache) Observe(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := false
	if ts, ok := c.items[key]; ok && now.Sub(ts) <= c.ttl {
		seen = true
	}

	c.items[key] = now
	c.order = append(c.order, entry{key: key, ts: now})
	c.compact(now)

	return seen
}

// Forget drops key so a later Observe treats it as unseen. Callers use it to
// roll back an Observe whose guarded operation failed.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *Cache) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.items) > c.capacity || c.order[0].ts.Before(cutoff)) {
		oldest := c.order[0]
		c.order = c.order[1:]

		if ts, ok := c.items[oldest.key]; ok {
			if ts == oldest.ts {
				delete(c.items, oldest.key)
			}
		}
	}
}
