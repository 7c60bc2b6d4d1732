// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache(0, 0)
	ctx := context.Background()

	c.Set(ctx, "key1", []byte("value1"), 5*time.Minute)
	val, ok := c.Get(ctx, "key1")
	require.True(t, ok)
	assert.Equal(t, []byte("value1"), val)

	_, ok = c.Get(ctx, "nonexistent")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestMemoryCache_CopiesValue(t *testing.T) {
	c := NewMemoryCache(0, 0)
	ctx := context.Background()
	buf := []byte("abc")
	c.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'X'

	val, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(val))
}

func TestMemoryCache_Expiration(t *testing.T) {
	mc := NewMemoryCache(0, 0).(*memoryCache)
	now := time.Now()
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	mc.Set(ctx, "short", []byte("v"), time.Second)
	_, ok := mc.Get(ctx, "short")
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = mc.Get(ctx, "short")
	assert.False(t, ok)
	assert.Equal(t, 1, mc.deleteExpired())
	assert.Equal(t, int64(1), mc.Stats().Evictions)
}

func TestMemoryCache_MaxEntriesEvictsSoonestExpiry(t *testing.T) {
	c := NewMemoryCache(0, 2)
	ctx := context.Background()
	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Hour)
	c.Set(ctx, "c", []byte("3"), time.Hour)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "b")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Stats().CurrentSize)
}

func TestMemoryCache_DeleteAndClear(t *testing.T) {
	c := NewMemoryCache(0, 0)
	ctx := context.Background()
	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)

	c.Delete(ctx, "a")
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Clear(ctx)
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemoryCache_JanitorStops(t *testing.T) {
	c := NewMemoryCache(10*time.Millisecond, 0)
	c.Set(context.Background(), "x", []byte("1"), time.Millisecond)
	require.Eventually(t, func() bool { return c.Stats().CurrentSize == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.NoError(t, c.Close())
}

func TestNewSelectsBackend(t *testing.T) {
	c, err := New(Config{Backend: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	_, isMem := c.(*memoryCache)
	assert.True(t, isMem)

	c, err = New(Config{Backend: "none"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, NewNoOpCache(), c)

	_, err = New(Config{Backend: "memcached"}, zerolog.Nop())
	assert.Error(t, err)

	c, err = New(Config{Backend: "redis"}, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestReadThroughDeduplicatesMisses(t *testing.T) {
	rt := NewReadThrough(NewMemoryCache(0, 0))
	ctx := context.Background()
	var calls atomic.Int32
	gate := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-gate
		return []byte("png"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := rt.Fetch(ctx, "preview:x", time.Minute, load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "png", string(r))
	}
	assert.Equal(t, int32(1), calls.Load())

	v, err := rt.Fetch(ctx, "preview:x", time.Minute, func(context.Context) ([]byte, error) {
		t.Fatal("loader called on a hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "png", string(v))
}

func TestReadThroughDoesNotCacheErrors(t *testing.T) {
	rt := NewReadThrough(NewMemoryCache(0, 0))
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := rt.Fetch(ctx, "k", time.Minute, func(context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := rt.Get(ctx, "k")
	assert.False(t, ok)
}
