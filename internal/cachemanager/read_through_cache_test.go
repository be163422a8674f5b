package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingCache counts writes so tests can tell a hit from a miss.
type recordingCache[K ~string, V any] struct {
	values map[K]V
	sets   int
}

func newRecordingCache[K ~string, V any]() *recordingCache[K, V] {
	return &recordingCache[K, V]{values: make(map[K]V)}
}

func (c *recordingCache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *recordingCache[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	c.sets++
	c.values[key] = value
}

func (c *recordingCache[K, V]) Delete(ctx context.Context, keys ...K) error {
	for _, key := range keys {
		delete(c.values, key)
	}
	return nil
}

func TestReadThroughCache_MissLoadsAndCaches(t *testing.T) {
	store := newRecordingCache[string, verdict]()
	loads := 0
	cache := NewReadThroughCache(store, func(ctx context.Context, text string) (verdict, error) {
		loads++
		return verdict{Template: "plan-iso"}, nil
	}, false)

	got, err := cache.Get(context.Background(), "fix the login test", "fix the login test", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "plan-iso", got.Template)
	require.Equal(t, 1, loads)
	require.Equal(t, 1, store.sets)

	// Second call hits the cache.
	got, err = cache.Get(context.Background(), "fix the login test", "fix the login test", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "plan-iso", got.Template)
	require.Equal(t, 1, loads, "hit should not reach the loader")
}

func TestReadThroughCache_KeyAndInputDiffer(t *testing.T) {
	store := newRecordingCache[string, int]()
	cache := NewReadThroughCache(store, func(ctx context.Context, input []int) (int, error) {
		sum := 0
		for _, n := range input {
			sum += n
		}
		return sum, nil
	}, false)

	got, err := cache.Get(context.Background(), "sum:1,2,3", []int{1, 2, 3}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 6, got)

	cached, ok := store.values["sum:1,2,3"]
	require.True(t, ok)
	require.Equal(t, 6, cached)
}

func TestReadThroughCache_LoaderErrorNotCached(t *testing.T) {
	store := newRecordingCache[string, verdict]()
	boom := errors.New("classifier exited 1")
	cache := NewReadThroughCache(store, func(ctx context.Context, text string) (verdict, error) {
		return verdict{}, boom
	}, false)

	_, err := cache.Get(context.Background(), "key", "key", time.Minute)
	require.ErrorIs(t, err, boom)
	require.Zero(t, store.sets)
}

func TestReadThroughCache_BypassSkipsStore(t *testing.T) {
	store := newRecordingCache[string, verdict]()
	store.values["key"] = verdict{Template: "stale"}
	loads := 0
	cache := NewReadThroughCache(store, func(ctx context.Context, text string) (verdict, error) {
		loads++
		return verdict{Template: "fresh"}, nil
	}, true)

	got, err := cache.Get(context.Background(), "key", "key", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "fresh", got.Template, "bypass should ignore the stored value")
	require.Equal(t, 1, loads)
	require.Zero(t, store.sets, "bypass should never write")
}
