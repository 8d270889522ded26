// Package ratelimit implements multi-period fixed-window rate limiting keyed
// by caller identity.
//
// This file provides the Limiter, which turns a request into an allow or
// deny decision:
//
//   - IsExempt() short-circuits exempt path prefixes ("/health/" also covers
//     "/health") and an exact loopback X-Forwarded-For marker, without
//     touching the store.
//   - TierFor() picks the tier: a sensitive endpoint first, then the API key
//     tier, then the user's role, then anonymous.
//   - CheckIdentity() reads every window before counting, so a denied
//     request never consumes quota, and increments all three only when the
//     request is allowed.
//   - Status() and Reset() back the monitoring API and guardctl.
//
// Design notes:
//   - Counter keys are rate_limit:{stable key}:{period}; the first increment
//     sets the window TTL and later increments keep it, so windows are fixed
//     rather than sliding.
//   - Every store call runs under Config.Timeout. A failure is returned
//     wrapped in ErrStoreUnavailable together with an allowed decision; the
//     guard logs it and fails open.
//   - The Limiter holds no mutable state and is safe for concurrent use.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds each store round-trip when Config.Timeout is unset.
const DefaultTimeout = 100 * time.Millisecond

// Config is the complete, immutable configuration of a Limiter.
type Config struct {
	Tiers       map[string]Tier // nil: DefaultTiers()
	Windows     Windows         // zero: DefaultWindows()
	ExemptPaths []string
	Timeout     time.Duration // per store call
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed bool
	// Exempt is set when the request bypassed counting.
	Exempt   bool
	Identity Identity
	Tier     Tier
	// Period, Limit and RetryAfter describe the exceeded window on denial.
	Period     Period
	Limit      uint64
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter in whole seconds.
func (d Decision) RetryAfterSeconds() int64 {
	return int64(d.RetryAfter / time.Second)
}

// Limiter enforces per-identity minute/hour/day windows.
type Limiter struct {
	store   Store
	tiers   map[string]Tier
	windows Windows
	exempt  []string
	timeout time.Duration
}

// New validates cfg and returns a Limiter over store.
func New(store Store, cfg Config) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: nil store")
	}
	tiers := cfg.Tiers
	if tiers == nil {
		tiers = DefaultTiers()
	}
	if err := validateTiers(tiers); err != nil {
		return nil, err
	}
	w := cfg.Windows
	if w == (Windows{}) {
		w = DefaultWindows()
	}
	if w.Minute <= 0 || w.Hour <= 0 || w.Day <= 0 {
		return nil, fmt.Errorf("%w: window durations must be positive", ErrInvalidTier)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Limiter{
		store:   store,
		tiers:   tiers,
		windows: w,
		exempt:  append([]string(nil), cfg.ExemptPaths...),
		timeout: timeout,
	}, nil
}

// IsExempt reports whether r skips both rate limiting and threat detection:
// an exempt path prefix, or a loopback X-Forwarded-For marker. A prefix
// ending in "/" also covers the bare path, so "/health/" exempts "/health".
func (l *Limiter) IsExempt(r *http.Request) bool {
	for _, p := range l.exempt {
		if exemptPath(r.URL.Path, p) {
			return true
		}
	}
	switch strings.TrimSpace(r.Header.Get("X-Forwarded-For")) {
	case "127.0.0.1", "::1":
		return true
	}
	return false
}

func exemptPath(path, prefix string) bool {
	if strings.HasPrefix(path, prefix) {
		return true
	}
	bare := strings.TrimSuffix(prefix, "/")
	return bare != "" && bare != prefix && path == bare
}

// Tier returns the named tier.
func (l *Limiter) Tier(name string) (Tier, bool) {
	t, ok := l.tiers[name]
	return t, ok
}

// TierFor picks the tier for a request: a sensitive endpoint wins, then the
// API key tier, then the user's role (unknown roles get the sales tier),
// then anonymous.
func (l *Limiter) TierFor(path string, id Identity, caller CallerContext) Tier {
	if name, ok := EndpointTier(path); ok {
		if t, ok := l.tiers[name]; ok {
			return t
		}
	}
	switch id.Kind {
	case KindAPIKey:
		return l.tiers[TierAPIKey]
	case KindUser:
		if t, ok := l.tiers[strings.ToLower(caller.Role)]; ok && isRoleTier(t.Name) {
			return t
		}
		return l.tiers[defaultRoleTier]
	}
	return l.tiers[TierAnonymous]
}

// Check runs the fixed-window algorithm for r.
//
// A store failure yields an allowed decision together with an error wrapping
// ErrStoreUnavailable; callers log it and let the request through.
func (l *Limiter) Check(ctx context.Context, r *http.Request, caller CallerContext) (Decision, error) {
	if l.IsExempt(r) {
		return Decision{Allowed: true, Exempt: true}, nil
	}
	id := Resolve(r, caller)
	return l.CheckIdentity(ctx, id, l.TierFor(r.URL.Path, id, caller))
}

// CheckIdentity evaluates and, when allowed, counts one request for id
// against tier.
func (l *Limiter) CheckIdentity(ctx context.Context, id Identity, tier Tier) (Decision, error) {
	d := Decision{Allowed: true, Identity: id, Tier: tier}

	for _, p := range Periods {
		limit := tier.Limit(p)
		n, err := l.get(ctx, id.CounterKey(p))
		if err != nil {
			return d, err
		}
		if n >= limit {
			d.Allowed = false
			d.Period = p
			d.Limit = limit
			d.RetryAfter = l.windows.TTL(p)
			return d, nil
		}
	}

	for _, p := range Periods {
		if _, err := l.incr(ctx, id.CounterKey(p), l.windows.TTL(p)); err != nil {
			return d, err
		}
	}
	return d, nil
}

// PeriodStatus is the usage of one window.
type PeriodStatus struct {
	Period    Period        `json:"period"`
	Limit     uint64        `json:"limit"`
	Used      uint64        `json:"used"`
	Remaining uint64        `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

// Status reports usage without counting a request.
type Status struct {
	Key     string         `json:"key"`
	Tier    string         `json:"tier"`
	Periods []PeriodStatus `json:"periods"`
}

// Status reads the counters of id against tier.
func (l *Limiter) Status(ctx context.Context, id Identity, tier Tier) (Status, error) {
	st := Status{Key: id.StableKey, Tier: tier.Name}
	for _, p := range Periods {
		key := id.CounterKey(p)
		used, err := l.get(ctx, key)
		if err != nil {
			return st, err
		}
		ttl, err := l.ttl(ctx, key)
		if err != nil {
			return st, err
		}
		ps := PeriodStatus{Period: p, Limit: tier.Limit(p), Used: used, ResetIn: ttl}
		if used < ps.Limit {
			ps.Remaining = ps.Limit - used
		}
		st.Periods = append(st.Periods, ps)
	}
	return st, nil
}

// Reset clears every window of id.
func (l *Limiter) Reset(ctx context.Context, id Identity) error {
	keys := make([]string, 0, len(Periods))
	for _, p := range Periods {
		keys = append(keys, id.CounterKey(p))
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return storeErr("delete", l.store.Delete(ctx, keys...))
}

func (l *Limiter) get(ctx context.Context, key string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	n, err := l.store.Get(ctx, key)
	return n, storeErr("get", err)
}

func (l *Limiter) incr(ctx context.Context, key string, ttl time.Duration) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	n, err := l.store.Incr(ctx, key, ttl)
	return n, storeErr("incr", err)
}

func (l *Limiter) ttl(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	d, err := l.store.TTL(ctx, key)
	return d, storeErr("ttl", err)
}

func isRoleTier(name string) bool {
	switch name {
	case TierSupport, TierSales, TierManager, TierAdmin:
		return true
	}
	return false
}

// storeErr normalises backend errors so callers can rely on errors.Is.
func storeErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return unavailable(op, err)
}
