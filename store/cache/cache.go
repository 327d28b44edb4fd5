package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
)

// Fetcher loads the value for key when it is not cached.
type Fetcher func(ctx context.Context, key string) (any, error)

// Config holds the configuration for the cache.
type Config struct {
	MaxItems   int64         // each entry costs 1
	DefaultTTL time.Duration // 0 disables caching
}

// Cache is an in-memory read-through cache with per-entry TTLs.
type Cache struct {
	store      *ristretto.Cache
	defaultTTL time.Duration
}

// New creates a new cache.
func New(config Config) (*Cache, error) {
	if config.MaxItems <= 0 {
		config.MaxItems = 1000
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.MaxItems * 10,
		MaxCost:     config.MaxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cache")
	}
	return &Cache{store: store, defaultTTL: config.DefaultTTL}, nil
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (any, bool) {
	return c.store.Get(key)
}

// SetWithTTL stores value for ttl. Non-positive ttls are not cached.
// The write is visible to Get once it returns.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if c.store.SetWithTTL(key, value, 1, ttl) {
		c.store.Wait()
	}
}

// GetOrFetch returns the cached value for key, loading and caching it with the
// default TTL on a miss. Fetch errors are returned and never cached.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch Fetcher) (any, bool, error) {
	if value, ok := c.Get(key); ok {
		return value, true, nil
	}
	value, err := fetch(ctx, key)
	if err != nil {
		return nil, false, err
	}
	c.SetWithTTL(key, value, c.defaultTTL)
	return value, false, nil
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.store.Del(key)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.store.Clear()
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.store.Close()
}
