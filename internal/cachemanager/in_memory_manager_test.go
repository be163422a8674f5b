package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type verdict struct {
	Template string
	ModelSet string
}

func TestInMemoryCacheManager_RoundTrip(t *testing.T) {
	cache := NewInMemoryCacheManager[string, verdict]("classifier", time.Minute, time.Minute)

	want := verdict{Template: "plan-iso", ModelSet: "base"}
	cache.Set(context.Background(), "fix the flaky login test", want, time.Minute)

	got, ok := cache.Get(context.Background(), "fix the flaky login test")
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestInMemoryCacheManager_MissingKey(t *testing.T) {
	cache := NewInMemoryCacheManager[string, verdict]("classifier", time.Minute, time.Minute)

	got, ok := cache.Get(context.Background(), "never stored")
	require.False(t, ok)
	require.Zero(t, got)
}

func TestInMemoryCacheManager_TypedKeys(t *testing.T) {
	type previewID string
	cache := NewInMemoryCacheManager[previewID, float64]("preview", time.Minute, time.Minute)

	cache.Set(context.Background(), previewID("p-1"), 3.25, time.Minute)

	got, ok := cache.Get(context.Background(), previewID("p-1"))
	require.True(t, ok)
	require.Equal(t, 3.25, got)
}

func TestInMemoryCacheManager_EntryExpires(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("preview", time.Minute, time.Minute)

	cache.Set(context.Background(), "short", "lived", 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := cache.Get(context.Background(), "short")
		return !ok
	}, time.Second, 10*time.Millisecond, "entry should expire after its ttl")
}

func TestInMemoryCacheManager_Delete(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("preview", time.Minute, time.Minute)

	cache.Set(context.Background(), "a", "1", time.Minute)
	cache.Set(context.Background(), "b", "2", time.Minute)

	require.NoError(t, cache.Delete(context.Background(), "a", "b", "missing"))

	_, ok := cache.Get(context.Background(), "a")
	require.False(t, ok)
	_, ok = cache.Get(context.Background(), "b")
	require.False(t, ok)
}

func TestInMemoryCacheManager_NonPositiveDurationsFallBack(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("preview", 0, 0)

	// The entry picks up the default TTL rather than expiring immediately.
	cache.Set(context.Background(), "k", "v", 0)

	got, ok := cache.Get(context.Background(), "k")
	require.True(t, ok)
	require.Equal(t, "v", got)
}

func TestInMemoryCacheManager_OverwriteReplacesValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, verdict]("classifier", time.Minute, time.Minute)

	cache.Set(context.Background(), "text", verdict{Template: "plan-iso"}, time.Minute)
	cache.Set(context.Background(), "text", verdict{Template: "sdlc-iso"}, time.Minute)

	got, ok := cache.Get(context.Background(), "text")
	require.True(t, ok)
	require.Equal(t, "sdlc-iso", got.Template)
}
