// Package metacache is a process-lifetime TTL cache for remote metadata
// fetch results. Channel and repository documents are cached here so that
// installing several packages in a row does not re-download the same
// JSON over and over. Keys are managed by the calling code, typically a
// source URL plus a logical suffix such as ".packages" or ".repositories".
package metacache

import (
	"sync"
	"time"
)

type entry struct {
	value   any
	expires time.Time
}

// Cache is safe for concurrent use by multiple fetch workers. Each Set is
// atomic; a Set racing an in-flight fetch of the same key is
// last-write-wins. There is no eviction beyond TTL expiry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the time source, used by tests to control TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key. The second return is false when
// the key is absent or its TTL has expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. Expired entries are overwritten in
// place; stale entries are never returned by Get.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}
