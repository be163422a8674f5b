package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache puts a loader behind a cache. Get consults the cache
// first and falls back to the loader, storing what it returns. Loader
// errors pass through to the caller and leave the cache untouched.
//
// The input type I travels to the loader unchanged; the key identifies the
// cached result and need not equal the input.
type ReadThroughCache[K ~string, V any, I any] struct {
	store  CacheManager[K, V]
	load   func(ctx context.Context, input I) (V, error)
	bypass bool
}

// NewReadThroughCache wires a loader to a backing store. With bypass set,
// every Get goes straight to the loader and the store is never touched,
// so callers can make caching a configuration choice.
func NewReadThroughCache[K ~string, V any, I any](
	store CacheManager[K, V],
	load func(ctx context.Context, input I) (V, error),
	bypass bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{store: store, load: load, bypass: bypass}
}

// Get returns the cached value for key or loads, caches, and returns it.
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if !r.bypass {
		if value, ok := r.store.Get(ctx, key); ok {
			return value, nil
		}
	}

	value, err := r.load(ctx, input)
	if err != nil || r.bypass {
		return value, err
	}

	r.store.Set(ctx, key, value, ttl)
	return value, nil
}
