package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable wraps every failure to reach the counter store.
// Callers map it to an allow decision.
var ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")

// Store is the shared window-counter backend.
//
// Incr must be atomic per key: the first increment creates the counter with
// the given TTL, later increments keep the existing expiry. Different keys
// carry no ordering or atomicity guarantees.
type Store interface {
	// Get returns the current count, 0 when the key is absent.
	Get(ctx context.Context, key string) (uint64, error)
	// Incr adds one and returns the new count.
	Incr(ctx context.Context, key string, ttl time.Duration) (uint64, error)
	// TTL returns the remaining lifetime, 0 when the key is absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Delete removes the keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
