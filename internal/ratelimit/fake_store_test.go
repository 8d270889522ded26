package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeStore is an in-memory Store with a controllable clock.
type fakeStore struct {
	mu      sync.Mutex
	now     time.Time
	counts  map[string]uint64
	expires map[string]time.Time
	calls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		now:     time.Unix(1_700_000_000, 0),
		counts:  map[string]uint64{},
		expires: map[string]time.Time{},
	}
}

func (f *fakeStore) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fakeStore) expireLocked(key string) {
	if exp, ok := f.expires[key]; ok && !f.now.Before(exp) {
		delete(f.counts, key)
		delete(f.expires, key)
	}
}

func (f *fakeStore) Get(_ context.Context, key string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.expireLocked(key)
	return f.counts[key], nil
}

func (f *fakeStore) Incr(_ context.Context, key string, ttl time.Duration) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.expireLocked(key)
	if _, ok := f.counts[key]; !ok {
		f.expires[key] = f.now.Add(ttl)
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeStore) TTL(_ context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireLocked(key)
	exp, ok := f.expires[key]
	if !ok {
		return 0, nil
	}
	return exp.Sub(f.now), nil
}

func (f *fakeStore) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.counts, k)
		delete(f.expires, k)
	}
	return nil
}

// brokenStore fails every call, or only Incr when failIncr is set.
type brokenStore struct {
	*fakeStore
	failIncr bool
}

var errBackend = errors.New("connection refused")

func (b *brokenStore) Get(ctx context.Context, key string) (uint64, error) {
	if b.failIncr {
		return b.fakeStore.Get(ctx, key)
	}
	return 0, errBackend
}

func (b *brokenStore) Incr(context.Context, string, time.Duration) (uint64, error) {
	return 0, errBackend
}

func (b *brokenStore) TTL(context.Context, string) (time.Duration, error) {
	return 0, errBackend
}

func (b *brokenStore) Delete(context.Context, ...string) error { return errBackend }

// slowStore blocks until the context is done.
type slowStore struct{ *fakeStore }

func (s *slowStore) Get(ctx context.Context, _ string) (uint64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
