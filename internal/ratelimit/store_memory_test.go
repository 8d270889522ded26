package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IncrGetTTL(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	n, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 1; i <= 3; i++ {
		n, err = s.Incr(ctx, "k", time.Hour)
		require.NoError(t, err)
		assert.EqualValues(t, i, n)
	}
	got, _ := s.Get(ctx, "k")
	assert.EqualValues(t, 3, got)

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.InDelta(t, float64(time.Hour), float64(ttl), float64(time.Second))

	require.NoError(t, s.Delete(ctx, "k", "missing"))
	got, _ = s.Get(ctx, "k")
	assert.Zero(t, got)
	assert.Zero(t, s.ItemCount())
}

func TestMemoryStore_WindowExpires(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	_, _ = s.Incr(ctx, "w", 30*time.Millisecond)
	_, _ = s.Incr(ctx, "w", 30*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	n, _ := s.Get(ctx, "w")
	assert.Zero(t, n, "expired counter reads as zero")
	n, _ = s.Incr(ctx, "w", 30*time.Millisecond)
	assert.EqualValues(t, 1, n, "expired counter restarts at one")
	ttl, _ := s.TTL(ctx, "missing")
	assert.Zero(t, ttl)
}

func TestMemoryStore_ConcurrentIncr(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Incr(context.Background(), "c", time.Minute)
		}()
	}
	wg.Wait()
	n, _ := s.Get(context.Background(), "c")
	assert.EqualValues(t, 100, n)
}
