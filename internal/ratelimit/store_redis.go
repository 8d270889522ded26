package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments a counter and sets its expiry only when the counter
// was just created, so the window never slides.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisStore keeps counters in Redis. It works against standalone, cluster
// and sentinel deployments through redis.UniversalClient; every operation
// touches a single key so cluster slot routing is never an issue.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client. The caller owns its lifecycle.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (uint64, error) {
	n, err := s.client.Get(ctx, key).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get", err)
	}
	return n, nil
}

// Incr implements Store.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (uint64, error) {
	n, err := incrScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("incr", err)
	}
	return uint64(n), nil
}

// TTL implements Store.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	// -2: missing key, -1: no expiry.
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Delete implements Store. Keys are deleted one by one in a pipeline because
// period keys of one identity may hash to different cluster slots.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Del(ctx, k)
		}
		return nil
	})
	if err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// RedisOptions mirrors the connection settings read from the environment.
type RedisOptions struct {
	Mode        string // standalone|cluster|sentinel
	Addrs       []string
	MasterName  string
	Password    string
	DB          int
	DialTimeout time.Duration
	// OpTimeout bounds reads and writes on the socket. The limiter applies
	// its own shorter context deadline on top.
	OpTimeout time.Duration
	PoolSize  int
}

// NewRedisClient builds a UniversalClient for the configured mode.
func NewRedisClient(o RedisOptions) (redis.UniversalClient, error) {
	if len(o.Addrs) == 0 {
		return nil, errors.New("redis: no addresses configured")
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 2 * time.Second
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = time.Second
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 20
	}

	switch o.Mode {
	case "", "standalone":
		return redis.NewClient(&redis.Options{
			Addr:         o.Addrs[0],
			Password:     o.Password,
			DB:           o.DB,
			DialTimeout:  o.DialTimeout,
			ReadTimeout:  o.OpTimeout,
			WriteTimeout: o.OpTimeout,
			PoolSize:     o.PoolSize,
		}), nil
	case "cluster":
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        o.Addrs,
			Password:     o.Password,
			DialTimeout:  o.DialTimeout,
			ReadTimeout:  o.OpTimeout,
			WriteTimeout: o.OpTimeout,
			PoolSize:     o.PoolSize,
		}), nil
	case "sentinel":
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    o.MasterName,
			SentinelAddrs: o.Addrs,
			Password:      o.Password,
			DB:            o.DB,
			DialTimeout:   o.DialTimeout,
			ReadTimeout:   o.OpTimeout,
			WriteTimeout:  o.OpTimeout,
			PoolSize:      o.PoolSize,
		}), nil
	}
	return nil, fmt.Errorf("redis: unsupported mode %q", o.Mode)
}
