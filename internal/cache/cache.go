package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sentinelbist/sentinel/internal/models"
)

// Cache defines the interface for quote caching implementations.
// Get returns cached data if present and not expired. GetStale returns expired
// data no older than maxStaleAge, used as a fallback when the market feed is down.
type Cache interface {
	Get(ctx context.Context, key string) (models.Quote, bool, error)
	GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Quote, bool, error)
	Set(ctx context.Context, key string, value models.Quote, ttl time.Duration) error
}

// InMemoryCache implements Cache using an in-memory map with TTL-based
// expiration. Expired entries are retained until they age past the stale
// window so GetStale can still serve them.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
}

// cacheEntry stores a cached quote with its expiration timestamp.
type cacheEntry struct {
	value     models.Quote
	expiresAt time.Time
}

// maxStaleRetention bounds how long expired entries stay around for stale serving.
const maxStaleRetention = 4 * time.Hour

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached quote for the key if present and not expired.
// Returns (quote, true, nil) on cache hit, (zero, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Quote, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.Quote{}, false, nil
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		if now.Sub(entry.value.Timestamp) > maxStaleRetention {
			delete(c.data, key)
		}
		return models.Quote{}, false, nil
	}

	return entry.value, true, nil
}

// GetStale retrieves the cached quote even when expired, as long as the quote
// itself is no older than maxStaleAge. Returns (zero, false, nil) otherwise.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Quote, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.Quote{}, false, nil
	}
	if time.Since(entry.value.Timestamp) > maxStaleAge {
		return models.Quote{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores a quote in the cache with the specified TTL duration.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Quote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}
