package utils

import (
	"sync"
	"time"
)

type dedupeEntry struct {
	key  string
	seen time.Time
}

// DedupeCache provides time-limited deduplication
type DedupeCache struct {
	mu      sync.Mutex
	cache   map[string]time.Time // key -> first seen
	order   []dedupeEntry        // insertion order, oldest first
	ttl     time.Duration
	maxSize int
}

// NewDedupeCache creates a new deduplication cache. A non-positive maxSize
// leaves the cache bounded by TTL only.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		cache:   make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// SeenAt returns true if key was already recorded within the TTL before now.
// Otherwise it records key and returns false. Empty keys are never duplicates.
func (c *DedupeCache) SeenAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if seen, ok := c.cache[key]; ok && now.Sub(seen) < c.ttl {
		return true
	}

	c.cache[key] = now
	c.order = append(c.order, dedupeEntry{key: key, seen: now})
	c.prune(now)
	return false
}

// prune pops expired and excess entries off the front of the queue. Queue
// entries whose key was forgotten or re-recorded since are skipped.
func (c *DedupeCache) prune(now time.Time) {
	cutoff := now.Add(-c.ttl)
	drop := 0
	for _, entry := range c.order {
		current, live := c.cache[entry.key]
		live = live && current.Equal(entry.seen)
		overSize := c.maxSize > 0 && len(c.cache) > c.maxSize
		if live && !overSize && !entry.seen.Before(cutoff) {
			break
		}
		if live {
			delete(c.cache, entry.key)
		}
		drop++
	}
	if drop == 0 {
		return
	}
	c.order = c.order[drop:]
	// Reclaim the backing array once most of it is garbage.
	if cap(c.order) > 64 && len(c.order) < cap(c.order)/4 {
		c.order = append([]dedupeEntry(nil), c.order...)
	}
}

// Size returns current number of entries
func (c *DedupeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Forget drops key so that a retried delivery is processed again.
func (c *DedupeCache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, key)
}
