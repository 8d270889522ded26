package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStore(client)
}

func TestRedisStore_IncrSetsExpiryOnce(t *testing.T) {
	mr, s := newMiniRedis(t)
	ctx := context.Background()

	n, err := s.Incr(ctx, "rate_limit:ip:abc:per_minute", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, time.Minute, mr.TTL("rate_limit:ip:abc:per_minute"))

	mr.FastForward(20 * time.Second)
	n, err = s.Incr(ctx, "rate_limit:ip:abc:per_minute", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 40*time.Second, mr.TTL("rate_limit:ip:abc:per_minute"), "increment must not extend the window")

	got, err := s.Get(ctx, "rate_limit:ip:abc:per_minute")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got)

	ttl, err := s.TTL(ctx, "rate_limit:ip:abc:per_minute")
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, ttl)

	mr.FastForward(41 * time.Second)
	got, err = s.Get(ctx, "rate_limit:ip:abc:per_minute")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestRedisStore_MissingKeyAndDelete(t *testing.T) {
	mr, s := newMiniRedis(t)
	ctx := context.Background()

	n, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, n)

	ttl, err := s.TTL(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	_, _ = s.Incr(ctx, "a", time.Hour)
	_, _ = s.Incr(ctx, "b", time.Hour)
	require.NoError(t, s.Delete(ctx, "a", "b", "c"))
	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("b"))
	require.NoError(t, s.Delete(ctx))
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, s := newMiniRedis(t)
	mr.Close()
	ctx := context.Background()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = s.Incr(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = s.TTL(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, s.Delete(ctx, "k"), ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), ErrStoreUnavailable)
}

func TestRedisStore_LimiterWindowExpiry(t *testing.T) {
	mr, s := newMiniRedis(t)
	tiers := DefaultTiers()
	l, err := New(s, Config{Tiers: tiers})
	require.NoError(t, err)
	ctx := context.Background()

	mk := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login/", nil)
		r.RemoteAddr = "198.51.100.7:1234"
		return r
	}
	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, mk(), CallerContext{})
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := l.Check(ctx, mk(), CallerContext{})
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.EqualValues(t, 60, d.RetryAfterSeconds())

	key := IPIdentity("198.51.100.7").CounterKey(PerMinute)
	v, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	mr.FastForward(61 * time.Second)
	d, err = l.Check(ctx, mk(), CallerContext{})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestNewRedisClient_Modes(t *testing.T) {
	_, err := NewRedisClient(RedisOptions{})
	assert.Error(t, err)

	c, err := NewRedisClient(RedisOptions{Addrs: []string{"localhost:6379"}})
	require.NoError(t, err)
	_, ok := c.(*redis.Client)
	assert.True(t, ok)
	_ = c.Close()

	c, err = NewRedisClient(RedisOptions{Mode: "cluster", Addrs: []string{"a:1", "b:2"}})
	require.NoError(t, err)
	_, ok = c.(*redis.ClusterClient)
	assert.True(t, ok)
	_ = c.Close()

	c, err = NewRedisClient(RedisOptions{Mode: "sentinel", MasterName: "m", Addrs: []string{"s:26379"}})
	require.NoError(t, err)
	_, ok = c.(*redis.Client)
	assert.True(t, ok)
	_ = c.Close()

	_, err = NewRedisClient(RedisOptions{Mode: "ring", Addrs: []string{"a:1"}})
	assert.Error(t, err)
}
