// Package ratelimit implements multi-period fixed-window rate limiting keyed
// by caller identity. Counters live in a shared Store (Redis in production,
// an in-process cache for single-node deployments and tests); the Limiter
// itself holds no mutable state.
package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTier reports a malformed or unknown tier definition.
var ErrInvalidTier = errors.New("ratelimit: invalid tier")

// Period names one of the three concurrent windows.
type Period string

const (
	PerMinute Period = "per_minute"
	PerHour   Period = "per_hour"
	PerDay    Period = "per_day"
)

// Periods is the evaluation order: tightest window first so it fails fast.
var Periods = []Period{PerMinute, PerHour, PerDay}

// Windows maps each period to its fixed window length (the counter TTL).
type Windows struct {
	Minute time.Duration
	Hour   time.Duration
	Day    time.Duration
}

// DefaultWindows returns 60s / 3600s / 86400s.
func DefaultWindows() Windows {
	return Windows{Minute: time.Minute, Hour: time.Hour, Day: 24 * time.Hour}
}

// TTL returns the window length for p.
func (w Windows) TTL(p Period) time.Duration {
	switch p {
	case PerMinute:
		return w.Minute
	case PerHour:
		return w.Hour
	case PerDay:
		return w.Day
	}
	return 0
}

// Tier names. Caller classes first, then sensitive endpoints.
const (
	TierAnonymous      = "anonymous"
	TierSupport        = "support"
	TierSales          = "sales"
	TierManager        = "manager"
	TierAdmin          = "admin"
	TierAPIKey         = "api_key"
	TierLogin          = "login"
	TierRegister       = "register"
	TierPasswordReset  = "password_reset"
	TierExport         = "export"
	TierBulkOperations = "bulk_operations"
)

// defaultRoleTier is used for authenticated users whose role has no tier.
const defaultRoleTier = TierSales

// Tier is an immutable named bucket of limits. per_minute <= per_hour <=
// per_day is the authoring convention but is not enforced.
type Tier struct {
	Name      string `json:"name"`
	PerMinute uint64 `json:"per_minute"`
	PerHour   uint64 `json:"per_hour"`
	PerDay    uint64 `json:"per_day"`
}

// Limit returns the allowance for period p.
func (t Tier) Limit(p Period) uint64 {
	switch p {
	case PerMinute:
		return t.PerMinute
	case PerHour:
		return t.PerHour
	case PerDay:
		return t.PerDay
	}
	return 0
}

// DefaultTiers returns a fresh copy of the built-in tier table.
func DefaultTiers() map[string]Tier {
	tiers := []Tier{
		{TierAnonymous, 20, 100, 500},
		{TierSupport, 50, 500, 5000},
		{TierSales, 100, 1000, 10000},
		{TierManager, 200, 2000, 20000},
		{TierAdmin, 500, 5000, 50000},
		{TierAPIKey, 1000, 10000, 100000},

		{TierLogin, 5, 20, 50},
		{TierRegister, 3, 10, 25},
		{TierPasswordReset, 3, 5, 10},
		{TierExport, 10, 50, 200},
		{TierBulkOperations, 20, 100, 500},
	}
	out := make(map[string]Tier, len(tiers))
	for _, t := range tiers {
		out[t.Name] = t
	}
	return out
}

// MergeTiers applies overrides on top of base and validates the result.
func MergeTiers(base map[string]Tier, overrides map[string]Tier) (map[string]Tier, error) {
	out := make(map[string]Tier, len(base))
	for k, v := range base {
		out[k] = v
	}
	for name, t := range overrides {
		if _, ok := base[name]; !ok {
			return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidTier, name)
		}
		t.Name = name
		out[name] = t
	}
	if err := validateTiers(out); err != nil {
		return nil, err
	}
	return out, nil
}

func validateTiers(tiers map[string]Tier) error {
	for _, name := range []string{TierAnonymous, TierAPIKey, defaultRoleTier} {
		if _, ok := tiers[name]; !ok {
			return fmt.Errorf("%w: required tier %q missing", ErrInvalidTier, name)
		}
	}
	for name, t := range tiers {
		if t.PerMinute == 0 || t.PerHour == 0 || t.PerDay == 0 {
			return fmt.Errorf("%w: %s limits must be positive", ErrInvalidTier, name)
		}
	}
	return nil
}

// EndpointTier returns the sensitive-endpoint tier name for a request path,
// matched by substring on the lowercased path.
func EndpointTier(path string) (string, bool) {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "login") || strings.Contains(p, "auth/token"):
		return TierLogin, true
	case strings.Contains(p, "register") || strings.Contains(p, "signup"):
		return TierRegister, true
	case strings.Contains(p, "password") && strings.Contains(p, "reset"):
		return TierPasswordReset, true
	case strings.Contains(p, "export"):
		return TierExport, true
	case strings.Contains(p, "bulk"):
		return TierBulkOperations, true
	}
	return "", false
}
