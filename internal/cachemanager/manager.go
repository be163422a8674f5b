// Package cachemanager provides typed TTL caches for values the daemon can
// recompute but would rather not: cost previews awaiting confirmation and
// classifier verdicts on recently seen event text.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager stores values of one type under string-like keys, each entry
// with its own TTL.
type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
}
