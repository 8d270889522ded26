// Package app assembles the guard from configuration: counter store,
// limiter, detector, burst limiter, audit database and event sinks. Both
// the server and guardctl build through here so they agree on keys, tiers
// and windows.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/crm-guard/internal/config"
	httpapi "github.com/tbourn/crm-guard/internal/http"
	"github.com/tbourn/crm-guard/internal/ratelimit"
	"github.com/tbourn/crm-guard/internal/repo"
	"github.com/tbourn/crm-guard/internal/services"
	"github.com/tbourn/crm-guard/internal/threat"
)

// pingTimeout bounds the startup connectivity check against Redis.
const pingTimeout = 2 * time.Second

// Stack is the assembled guard. Close releases the store and database.
type Stack struct {
	Config   config.Config
	Store    ratelimit.Store
	Limiter  *ratelimit.Limiter
	Detector *threat.Detector
	Burst    *ratelimit.BurstLimiter
	AuditDB  *gorm.DB
	Audit    *services.AuditService
	Events   services.EventSink

	closers []func() error
}

// Build wires every component. Rules are applied to cfg before anything is
// constructed. A Redis store that does not answer the startup ping is kept:
// the limiter fails open until it recovers.
func Build(ctx context.Context, cfg config.Config, rules config.Rules, lg zerolog.Logger) (*Stack, error) {
	rules.Apply(&cfg.Guard)
	s := &Stack{Config: cfg}

	store, closeStore, err := NewStore(ctx, cfg, lg)
	if err != nil {
		return nil, err
	}
	s.Store = store
	s.closers = append(s.closers, closeStore)

	tiers, err := Tiers(cfg.Guard)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Limiter, err = ratelimit.New(store, ratelimit.Config{
		Tiers:       tiers,
		Windows:     ratelimit.Windows{Minute: cfg.Guard.TTLMinute, Hour: cfg.Guard.TTLHour, Day: cfg.Guard.TTLDay},
		ExemptPaths: cfg.Guard.ExemptPaths,
		Timeout:     cfg.Guard.StoreTimeout,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	s.Detector, err = threat.New(threat.Options{
		StrictMode:     cfg.Guard.StrictMode,
		Stats:          cfg.Guard.StatsEnabled,
		CustomPatterns: rules.CustomPatterns,
		SafeContexts:   rules.SafeContexts,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	if cfg.Guard.BurstEnabled {
		s.Burst = ratelimit.NewBurstLimiter(cfg.Guard.BurstRPS, cfg.Guard.BurstSize)
	}

	sinks := services.Multi{services.NewEventLogger(lg)}
	if cfg.Audit.Enabled {
		db, err := repo.OpenSQLite(cfg.Audit.DBPath)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open audit db: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			s.closers = append(s.closers, sqlDB.Close)
		}
		if err := repo.AutoMigrate(db); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate audit db: %w", err)
		}
		s.AuditDB = db
		s.Audit = &services.AuditService{DB: db}
		sinks = append(sinks, &services.AuditSink{DB: db})
	}
	s.Events = sinks
	return s, nil
}

// NewStore returns the configured counter store and its release function.
func NewStore(ctx context.Context, cfg config.Config, lg zerolog.Logger) (ratelimit.Store, func() error, error) {
	switch cfg.Guard.Store {
	case "", "memory":
		return ratelimit.NewMemoryStore(cfg.Guard.TTLMinute), func() error { return nil }, nil
	case "redis":
		client, err := ratelimit.NewRedisClient(ratelimit.RedisOptions{
			Mode:        cfg.Redis.Mode,
			Addrs:       cfg.Redis.Addrs,
			MasterName:  cfg.Redis.MasterName,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
			PoolSize:    cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		store := ratelimit.NewRedisStore(client)
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := store.Ping(pctx); err != nil {
			lg.Warn().Err(err).Strs("addrs", cfg.Redis.Addrs).Msg("redis unreachable at startup; rate limiting fails open until it recovers")
		}
		return store, client.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: GUARD_STORE %q", config.ErrInvalidConfig, cfg.Guard.Store)
}

// Tiers overlays the configured limits on the built-in table.
func Tiers(g config.GuardConfig) (map[string]ratelimit.Tier, error) {
	overrides := make(map[string]ratelimit.Tier, len(g.Tiers))
	for name, tl := range g.Tiers {
		overrides[name] = ratelimit.Tier{Name: name, PerMinute: tl.PerMinute, PerHour: tl.PerHour, PerDay: tl.PerDay}
	}
	return ratelimit.MergeTiers(ratelimit.DefaultTiers(), overrides)
}

// Deps returns the router dependencies.
func (s *Stack) Deps() httpapi.Deps {
	return httpapi.Deps{
		Limiter:  s.Limiter,
		Detector: s.Detector,
		Burst:    s.Burst,
		Events:   s.Events,
		Audit:    s.Audit,
	}
}

// Close releases resources in reverse order of acquisition.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
