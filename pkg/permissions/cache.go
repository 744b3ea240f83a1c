package permissions

import (
	"sync"
	"time"
)

// Cache stores permission check results and permission sets keyed by
// fingerprint. Implementations must treat an expired entry exactly like a
// missing one.
type Cache interface {
	// Set stores a value with the given TTL. A non-positive TTL uses the
	// cache default. Overwrites any existing entry for the key.
	Set(key string, value interface{}, ttl time.Duration)

	// Get returns the value for the key, or false if the key was never set
	// or has expired.
	Get(key string) (interface{}, bool)

	// Has reports whether Get would return a value.
	Has(key string) bool

	// Delete removes one entry unconditionally.
	Delete(key string)

	// InvalidateUserPermissions removes every entry scoped to the user:
	// all resource/action fingerprints plus the aggregate permission-set
	// entry. Entries for other users are untouched.
	InvalidateUserPermissions(userID string)

	// Clear removes all entries.
	Clear()

	// Len returns the number of entries currently held, including entries
	// that have expired but not yet been lazily purged.
	Len() int
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache. Expiry is enforced lazily on read;
// there is no background sweeper. Safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryCacheOption configures a MemoryCache.
type MemoryCacheOption func(*MemoryCache)

// WithClock overrides the cache's time source. Used by tests to advance
// virtual time past entry expiry.
func WithClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.now = now
	}
}

// WithDefaultTTL overrides the default entry lifetime.
func WithDefaultTTL(ttl time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.ttl = ttl
	}
}

// NewMemoryCache creates an empty in-memory permission cache.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]cacheEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// expired is the single expiry check shared by Get and Has so the two can
// never diverge.
func (c *MemoryCache) expired(e cacheEntry) bool {
	return c.now().After(e.expiresAt)
}

// Set stores a value with expiry now + ttl (cache default when ttl <= 0).
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Get returns the cached value, purging the entry as a side effect if it has
// expired.
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Has reports whether Get would return a value.
func (c *MemoryCache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes one entry. No-op if absent.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateUserPermissions removes every entry scoped to the user.
func (c *MemoryCache) InvalidateUserPermissions(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if keyBelongsToUser(key, userID) {
			delete(c.entries, key)
		}
	}
}

// Clear removes all entries.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of entries currently held.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
