package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BurstLimiter is a process-local token bucket per stable key that absorbs
// short spikes before the windowed counters are consulted. Idle buckets are
// evicted opportunistically.
//
// Safe for concurrent use.
type BurstLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64

	now func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// gcEvery is the number of lookups between idle-bucket sweeps.
const gcEvery = 5000

// NewBurstLimiter allows up to burst requests at once, refilled at rps
// tokens per second. A burst <= 0 is coerced to 1.
func NewBurstLimiter(rps float64, burst int) *BurstLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &BurstLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// Allow consumes one token for key. When denied, the returned duration is
// how long until a token is available, rounded up to a whole second.
func (b *BurstLimiter) Allow(key string) (bool, time.Duration) {
	now := b.now()
	lim := b.bucket(key, now)
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	wait := r.DelayFrom(now)
	if wait == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, (wait + time.Second - 1) / time.Second * time.Second
}

// Size is the bucket capacity.
func (b *BurstLimiter) Size() int { return b.burst }

// Len reports the number of tracked buckets.
func (b *BurstLimiter) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.visitors)
}

// bucket sweeps idle entries before touching key, so a stale bucket can be
// evicted even when it is the one requested.
func (b *BurstLimiter) bucket(key string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lookups++
	if b.lookups >= gcEvery {
		for k, v := range b.visitors {
			if now.Sub(v.lastSeen) >= b.ttl {
				delete(b.visitors, k)
			}
		}
		b.lookups = 0
	}

	if v, ok := b.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(b.rps, b.burst)
	b.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}
