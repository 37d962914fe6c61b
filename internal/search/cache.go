package search

import (
	"fmt"
	"sync"
	"time"
)

// Cache defaults.
const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultCacheEntries = 20
)

// Cache holds recent result sets keyed by query+limit. An entry is valid
// while its age is under the TTL. When at capacity, insertion evicts the
// oldest-inserted entry — insertion order, not access order, on purpose:
// reads never reorder entries.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry
	order      []string // insertion order, oldest first

	now func() time.Time // injectable clock for tests
}

type cacheEntry struct {
	results    []Result
	insertedAt time.Time
}

// NewCache creates a cache. Non-positive arguments fall back to defaults.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
		now:        time.Now,
	}
}

func cacheKey(query string, limit int) string {
	return fmt.Sprintf("%s:%d", query, limit)
}

// Get returns the cached results for query+limit if present and fresh.
// Stale entries are dropped on lookup.
func (c *Cache) Get(query string, limit int) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query, limit)
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) >= c.ttl {
		c.remove(key)
		return nil, false
	}

	results := make([]Result, len(entry.results))
	copy(results, entry.results)
	return results, true
}

// Put stores results for query+limit, evicting the oldest-inserted entry
// when at capacity. Re-inserting an existing key counts as a fresh
// insertion.
func (c *Cache) Put(query string, limit int, results []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query, limit)
	if _, ok := c.entries[key]; ok {
		c.remove(key)
	}
	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		c.remove(c.order[0])
	}

	stored := make([]Result, len(results))
	copy(stored, results)
	c.entries[key] = cacheEntry{results: stored, insertedAt: c.now()}
	c.order = append(c.order, key)
}

// Len returns the number of stored entries, stale or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove deletes key from both the map and the order slice. Caller holds
// the lock.
func (c *Cache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
