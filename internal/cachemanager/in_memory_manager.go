package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/adwd/internal/log"
)

// Fallbacks for constructors called with non-positive durations.
const (
	DefaultExpiration      = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

var _ CacheManager[string, int] = (*InMemoryCacheManager[string, int])(nil)

// InMemoryCacheManager backs CacheManager with an in-process go-cache
// store. Expired entries are swept every cleanupInterval; between sweeps
// they are invisible to Get but still occupy memory. The name tags log
// lines when one process runs several caches.
type InMemoryCacheManager[K ~string, V any] struct {
	name  string
	store *gocache.Cache
}

// NewInMemoryCacheManager creates a named cache. defaultTTL applies to
// entries set with a non-positive ttl.
func NewInMemoryCacheManager[K ~string, V any](name string, defaultTTL, cleanupInterval time.Duration) *InMemoryCacheManager[K, V] {
	if defaultTTL <= 0 {
		defaultTTL = DefaultExpiration
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &InMemoryCacheManager[K, V]{
		name:  name,
		store: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get returns the live entry for key, if any.
func (c *InMemoryCacheManager[K, V]) Get(ctx context.Context, key K) (V, bool) {
	var zero V

	raw, found := c.store.Get(string(key))
	if !found {
		return zero, false
	}
	value, ok := raw.(V)
	if !ok {
		log.Error(log.CatCache, "cache entry has unexpected type", "cache", c.name, "key", string(key))
		return zero, false
	}

	log.Debug(log.CatCache, "cache hit", "cache", c.name, "key", string(key))
	return value, true
}

// Set stores value under key for ttl. A non-positive ttl uses the cache's
// default.
func (c *InMemoryCacheManager[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.store.Set(string(key), value, ttl)
}

// Delete removes the given keys. Missing keys are not an error.
func (c *InMemoryCacheManager[K, V]) Delete(ctx context.Context, keys ...K) error {
	for _, key := range keys {
		c.store.Delete(string(key))
	}
	return nil
}
