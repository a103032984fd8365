package search

import (
	"sync"
	"time"
)

// defaultCacheTTL is the default memoization window for analytics results.
const defaultCacheTTL = 10 * time.Second

type cacheEntry struct {
	value    any
	expires  time.Time
}

// Cache is an in-process, mutex-guarded memo keyed by analytics endpoint
// name. There is no distributed cache in the dependency surface this
// service draws on, and none is warranted at local-mailbox scale.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache builds an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry), now: time.Now}
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with ttl. ttl <= 0 uses defaultCacheTTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: c.now().Add(ttl)}
}

// Invalidate drops the cached value for key, if any. The Sync Orchestrator
// calls this for "overview", "senders", "categories", "alerts", "eda",
// "expenses_overview", and "expenses_tx" at the start and end of every run.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
