package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBurstLimiter_AllowThenDeny(t *testing.T) {
	b := NewBurstLimiter(1, 3)
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, _ := b.Allow("ip:a")
		assert.True(t, ok)
	}
	ok, wait := b.Allow("ip:a")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _ = b.Allow("ip:b")
	assert.True(t, ok, "buckets are per key")

	now = now.Add(time.Second)
	ok, _ = b.Allow("ip:a")
	assert.True(t, ok, "token refilled")
}

func TestBurstLimiter_DeniedDoesNotConsume(t *testing.T) {
	b := NewBurstLimiter(0.5, 1)
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }

	ok, _ := b.Allow("k")
	assert.True(t, ok)
	for i := 0; i < 5; i++ {
		ok, wait := b.Allow("k")
		assert.False(t, ok)
		assert.Equal(t, 2*time.Second, wait)
	}
	now = now.Add(2 * time.Second)
	ok, _ = b.Allow("k")
	assert.True(t, ok)
}

func TestBurstLimiter_BurstCoercionAndGC(t *testing.T) {
	b := NewBurstLimiter(1, 0)
	assert.Equal(t, 1, b.burst)

	start := time.Unix(1_700_000_000, 0)
	now := start
	b.now = func() time.Time { return now }
	b.Allow("old")

	now = start.Add(11 * time.Minute)
	for i := 0; i < gcEvery; i++ {
		b.Allow(fmt.Sprintf("k%d", i%10))
	}
	b.mu.Lock()
	_, stillThere := b.visitors["old"]
	b.mu.Unlock()
	assert.False(t, stillThere, "idle bucket should be evicted")
	assert.Equal(t, 10, b.Len())
}
