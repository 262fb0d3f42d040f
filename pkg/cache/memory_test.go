package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTripsJSON(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	type rec struct {
		Pattern string  `json:"pattern"`
		WinRate float64 `json:"win_rate"`
	}
	require.NoError(t, mc.Set(ctx, "k", []rec{{"BREAKOUT", 0.4}}, time.Minute))

	var got []rec
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, []rec{{"BREAKOUT", 0.4}}, got)

	var raw string
	require.NoError(t, mc.Get(ctx, "k", &raw))
	assert.JSONEq(t, `[{"pattern":"BREAKOUT","win_rate":0.4}]`, raw)
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", "v", time.Second))
	now = now.Add(2 * time.Second)

	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0))
	defer mc.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { now = now.Add(time.Millisecond); return now }
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
}

func TestMemoryCacheTryLock(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "retrain", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "retrain", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "retrain"))
	ok, _ = mc.TryLock(ctx, "retrain", time.Minute)
	assert.True(t, ok)
}
