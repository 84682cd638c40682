package cache

import (
	"sync"
	"time"
)

// InMemoryCache is a concurrent-safe in-memory key-value store with
// optional per-entry expiry. Expired entries are dropped lazily on read.
type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

// NewInMemoryCache creates and returns a new InMemoryCache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		items: make(map[string]entry),
	}
}

// Get retrieves a value from the cache.
// It returns the value and true if the key exists and has not expired,
// otherwise nil and false.
func (c *InMemoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	if !found {
		return nil, false
	}

	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock in case a concurrent Set refreshed it
		if cur, ok := c.items[key]; ok && cur.expiresAt.Equal(item.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return item.value, true
}

// Set adds or updates a value in the cache with no expiry.
func (c *InMemoryCache) Set(key string, value any) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL adds or updates a value that expires after ttl.
// A ttl of zero means the entry never expires.
func (c *InMemoryCache) SetWithTTL(key string, value any, ttl time.Duration) {
	item := entry{value: value}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item
}

// Delete removes a value from the cache.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
