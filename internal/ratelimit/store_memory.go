package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is a process-local Store backed by go-cache. Counters are not
// shared between replicas.
type MemoryStore struct {
	mu sync.Mutex
	c  *cache.Cache
}

// NewMemoryStore creates a store whose expired entries are purged every
// cleanup interval.
func NewMemoryStore(cleanup time.Duration) *MemoryStore {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &MemoryStore{c: cache.New(cache.NoExpiration, cleanup)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (uint64, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return 0, nil
	}
	n, _ := v.(uint64)
	return n, nil
}

// Incr implements Store. IncrementUint64 keeps the item's expiration; the
// mutex makes the create-on-miss path atomic.
func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, err := s.c.IncrementUint64(key, 1); err == nil {
		return n, nil
	}
	s.c.Set(key, uint64(1), ttl)
	return 1, nil
}

// TTL implements Store.
func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	_, exp, ok := s.c.GetWithExpiration(key)
	if !ok || exp.IsZero() {
		return 0, nil
	}
	if d := time.Until(exp); d > 0 {
		return d, nil
	}
	return 0, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.c.Delete(k)
	}
	return nil
}

// ItemCount reports the number of live counters, including expired ones not
// yet purged.
func (s *MemoryStore) ItemCount() int { return s.c.ItemCount() }
