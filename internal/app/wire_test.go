package app

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/crm-guard/internal/config"
	"github.com/tbourn/crm-guard/internal/domain"
	"github.com/tbourn/crm-guard/internal/ratelimit"
	"github.com/tbourn/crm-guard/internal/services"
	"github.com/tbourn/crm-guard/internal/threat"
)

func baseConfig() config.Config {
	return config.Config{
		Guard: config.GuardConfig{
			Enabled:      true,
			StatsEnabled: true,
			ExemptPaths:  config.DefaultExemptPaths,
			TTLMinute:    time.Minute,
			TTLHour:      time.Hour,
			TTLDay:       24 * time.Hour,
			Store:        "memory",
			StoreTimeout: 100 * time.Millisecond,
		},
		Redis: config.RedisConfig{Mode: "standalone"},
	}
}

func silent() zerolog.Logger { return zerolog.New(io.Discard) }

func TestBuild_MemoryDefaults(t *testing.T) {
	s, err := Build(context.Background(), baseConfig(), config.Rules{}, silent())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.IsType(t, &ratelimit.MemoryStore{}, s.Store)
	assert.Nil(t, s.Burst)
	assert.Nil(t, s.Audit)
	assert.True(t, s.Detector.Stats().Enabled)

	tier, ok := s.Limiter.Tier(ratelimit.TierAnonymous)
	require.True(t, ok)
	assert.Equal(t, uint64(20), tier.PerMinute)

	deps := s.Deps()
	assert.Same(t, s.Limiter, deps.Limiter)
	assert.Nil(t, deps.Audit)
}

func TestBuild_RulesAndEnvOverrides(t *testing.T) {
	cfg := baseConfig()
	cfg.Guard.Tiers = map[string]config.TierLimits{"login": {PerMinute: 2, PerHour: 4, PerDay: 8}}
	rules := config.Rules{
		CustomPatterns: []string{`(?i)\bxp_dirtree\b`},
		ExemptPaths:    []string{"/internal/probe/"},
		Tiers: map[string]config.TierLimits{
			"login":  {PerMinute: 9, PerHour: 9, PerDay: 9},
			"export": {PerMinute: 1, PerHour: 2, PerDay: 3},
		},
	}
	s, err := Build(context.Background(), cfg, rules, silent())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	login, _ := s.Limiter.Tier(ratelimit.TierLogin)
	assert.Equal(t, uint64(2), login.PerMinute, "environment wins over the rules file")
	export, _ := s.Limiter.Tier(ratelimit.TierExport)
	assert.Equal(t, uint64(1), export.PerMinute)

	assert.True(t, s.Limiter.IsExempt(httptest.NewRequest("GET", "/internal/probe/x", nil)))

	f := s.Detector.Scan("exec master..xp_dirtree '//x/y'", "q", threat.ContextNone)
	require.NotNil(t, f)
}

func TestBuild_InvalidPattern(t *testing.T) {
	_, err := Build(context.Background(), baseConfig(), config.Rules{CustomPatterns: []string{"("}}, silent())
	require.Error(t, err)
	assert.ErrorIs(t, err, threat.ErrInvalidPattern)
}

func TestBuild_BurstAndAudit(t *testing.T) {
	cfg := baseConfig()
	cfg.Guard.BurstEnabled = true
	cfg.Guard.BurstRPS = 1
	cfg.Guard.BurstSize = 3
	cfg.Audit = config.AuditConfig{Enabled: true, DBPath: filepath.Join(t.TempDir(), "events.db"), Retention: time.Hour}

	s, err := Build(context.Background(), cfg, config.Rules{}, silent())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NotNil(t, s.Burst)
	assert.Equal(t, 3, s.Burst.Size())
	require.NotNil(t, s.Audit)

	ctx := context.Background()
	require.NoError(t, s.Events.Emit(ctx, services.Event{
		Type: domain.EventRateLimitExceeded, IdentityKey: "ip:abc", Path: "/api/v1/contacts/", Method: "GET",
	}))
	page, err := s.Audit.List(ctx, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestBuild_AuditBadPath(t *testing.T) {
	cfg := baseConfig()
	cfg.Audit = config.AuditConfig{Enabled: true, DBPath: filepath.Join(t.TempDir(), "missing", "events.db")}
	_, err := Build(context.Background(), cfg, config.Rules{}, silent())
	require.Error(t, err)
}

func TestNewStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.Guard.Store = "redis"
	cfg.Redis.Addrs = []string{mr.Addr()}

	s, err := Build(context.Background(), cfg, config.Rules{}, silent())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.IsType(t, &ratelimit.RedisStore{}, s.Store)

	ctx := context.Background()
	id := ratelimit.IPIdentity("203.0.113.9")
	tier, _ := s.Limiter.Tier(ratelimit.TierAnonymous)
	d, err := s.Limiter.CheckIdentity(ctx, id, tier)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, mr.Exists(id.CounterKey(ratelimit.PerMinute)))
}

func TestNewStore_RedisDownStillBuilds(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := baseConfig()
	cfg.Guard.Store = "redis"
	cfg.Guard.StoreTimeout = 50 * time.Millisecond
	cfg.Redis.Addrs = []string{addr}
	cfg.Redis.DialTimeout = 50 * time.Millisecond

	s, err := Build(context.Background(), cfg, config.Rules{}, silent())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	tier, _ := s.Limiter.Tier(ratelimit.TierAnonymous)
	d, err := s.Limiter.CheckIdentity(context.Background(), ratelimit.IPIdentity("x"), tier)
	assert.True(t, d.Allowed, "fails open")
	assert.ErrorIs(t, err, ratelimit.ErrStoreUnavailable)
}

func TestNewStore_Errors(t *testing.T) {
	cfg := baseConfig()
	cfg.Guard.Store = "etcd"
	_, _, err := NewStore(context.Background(), cfg, silent())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg.Guard.Store = "redis"
	cfg.Redis.Addrs = nil
	_, _, err = NewStore(context.Background(), cfg, silent())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestTiers_UnknownOverride(t *testing.T) {
	_, err := Tiers(config.GuardConfig{Tiers: map[string]config.TierLimits{"vip": {PerMinute: 1, PerHour: 1, PerDay: 1}}})
	assert.True(t, errors.Is(err, ratelimit.ErrInvalidTier))
}

func TestStack_CloseJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	var order []int
	s := &Stack{closers: []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return boom },
	}}
	assert.ErrorIs(t, s.Close(), boom)
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, s.Close(), "second close is a no-op")
}
