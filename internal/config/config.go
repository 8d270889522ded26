// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the request guard (rate limit tiers, threat detection flags, exempt
// paths), the counter store backend, the security audit database, and
// observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure returned from Load
// and LoadRules. Callers treat it as fatal at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "crm-guard")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// TierLimits is a per_minute/per_hour/per_day triple as written in the
// environment ("5/20/50") or the rules file.
type TierLimits struct {
	PerMinute uint64 `yaml:"per_minute"`
	PerHour   uint64 `yaml:"per_hour"`
	PerDay    uint64 `yaml:"per_day"`
}

// TierNames lists every tier that can be overridden with RATE_LIMIT_<NAME>.
var TierNames = []string{
	"anonymous", "support", "sales", "manager", "admin", "api_key",
	"login", "register", "password_reset", "export", "bulk_operations",
}

// RedisConfig configures the shared counter store.
type RedisConfig struct {
	Mode        string   // REDIS_MODE: standalone|cluster|sentinel
	Addrs       []string // REDIS_ADDRS (comma separated)
	MasterName  string   // REDIS_MASTER_NAME (sentinel only)
	Password    string   // REDIS_PASSWORD
	DB          int      // REDIS_DB
	DialTimeout time.Duration
	PoolSize    int
}

// GuardConfig holds request-guard settings.
type GuardConfig struct {
	Enabled          bool
	StrictMode       bool
	StatsEnabled     bool
	ExemptPaths      []string
	TTLMinute        time.Duration
	TTLHour          time.Duration
	TTLDay           time.Duration
	Store            string // redis|memory
	StoreTimeout     time.Duration
	TrustUserHeaders bool
	BurstEnabled     bool
	BurstRPS         float64
	BurstSize        int
	RulesFile        string
	Tiers            map[string]TierLimits // only tiers overridden via env
}

// AuditConfig controls the optional database sink for security events.
type AuditConfig struct {
	Enabled   bool
	DBPath    string
	Retention time.Duration
}

// DefaultExemptPaths are skipped by both rate limiting and threat detection.
var DefaultExemptPaths = []string{
	"/health/",
	"/api/v1/monitoring/",
	"/admin/",
	"/static/",
	"/media/",
	"/metrics/",
	"/api/schema/",
	"/api/docs/",
	"/api/redoc/",
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	Guard GuardConfig
	Redis RedisConfig
	Audit AuditConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
//
// Unlike the plain numeric options, tier triples and the store backend are
// rejected instead of silently falling back, since a half-applied limit table
// is worse than refusing to start.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", true),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		Guard: GuardConfig{
			Enabled:          getbool("GUARD_ENABLED", true),
			StrictMode:       getbool("GUARD_STRICT_MODE", false),
			StatsEnabled:     getbool("GUARD_STATS_ENABLED", true),
			ExemptPaths:      DefaultExemptPaths,
			TTLMinute:        getdur("GUARD_TTL_MINUTE", time.Minute),
			TTLHour:          getdur("GUARD_TTL_HOUR", time.Hour),
			TTLDay:           getdur("GUARD_TTL_DAY", 24*time.Hour),
			Store:            strings.ToLower(getenv("GUARD_STORE", "memory")),
			StoreTimeout:     getdur("GUARD_STORE_TIMEOUT", 100*time.Millisecond),
			TrustUserHeaders: getbool("GUARD_TRUST_USER_HEADERS", false),
			BurstEnabled:     getbool("GUARD_BURST_ENABLED", false),
			BurstRPS:         getfloat("GUARD_BURST_RPS", 5.0),
			BurstSize:        getint("GUARD_BURST_SIZE", 50),
			RulesFile:        getenv("GUARD_RULES_FILE", ""),
		},

		Redis: RedisConfig{
			Mode:        strings.ToLower(getenv("REDIS_MODE", "standalone")),
			Addrs:       splitCSV(getenv("REDIS_ADDRS", "localhost:6379")),
			MasterName:  getenv("REDIS_MASTER_NAME", ""),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          getint("REDIS_DB", 0),
			DialTimeout: getdur("REDIS_DIAL_TIMEOUT", 2*time.Second),
			PoolSize:    getint("REDIS_POOL_SIZE", 20),
		},

		Audit: AuditConfig{
			Enabled:   getbool("AUDIT_ENABLED", false),
			DBPath:    getenv("AUDIT_DB_PATH", "security_events.db"),
			Retention: getdur("AUDIT_RETENTION", 30*24*time.Hour),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "crm-guard"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if err := checkTypedEnv(); err != nil {
		return cfg, err
	}

	if v := getenv("GUARD_EXEMPT_PATHS", ""); v != "" {
		cfg.Guard.ExemptPaths = splitCSV(v)
	}

	tiers, err := tiersFromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.Guard.Tiers = tiers

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return invalid("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return invalid("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return invalid("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return invalid("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return invalid("MAX_BODY_BYTES must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return invalid("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return invalid("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	g := cfg.Guard
	if g.TTLMinute < time.Second || g.TTLHour < time.Second || g.TTLDay < time.Second {
		return invalid("GUARD_TTL_* must be at least 1s")
	}
	if g.StoreTimeout <= 0 {
		return invalid("GUARD_STORE_TIMEOUT must be > 0")
	}
	switch g.Store {
	case "redis", "memory":
	default:
		return invalid("GUARD_STORE must be one of: redis, memory")
	}
	if g.BurstEnabled {
		if g.BurstRPS <= 0 {
			return invalid("GUARD_BURST_RPS must be > 0")
		}
		if g.BurstSize < 1 {
			return invalid("GUARD_BURST_SIZE must be >= 1")
		}
	}
	for _, p := range g.ExemptPaths {
		if !strings.HasPrefix(p, "/") {
			return invalid(fmt.Sprintf("GUARD_EXEMPT_PATHS entry %q must start with '/'", p))
		}
	}

	if g.Store == "redis" {
		switch cfg.Redis.Mode {
		case "standalone", "cluster", "sentinel":
		default:
			return invalid("REDIS_MODE must be one of: standalone, cluster, sentinel")
		}
		if len(cfg.Redis.Addrs) == 0 {
			return invalid("REDIS_ADDRS must not be empty")
		}
		if cfg.Redis.Mode == "sentinel" && strings.TrimSpace(cfg.Redis.MasterName) == "" {
			return invalid("REDIS_MASTER_NAME is required in sentinel mode")
		}
	}

	if cfg.Audit.Enabled {
		if strings.TrimSpace(cfg.Audit.DBPath) == "" {
			return invalid("AUDIT_DB_PATH must not be empty")
		}
		if cfg.Audit.Retention < 0 {
			return invalid("AUDIT_RETENTION must be >= 0")
		}
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

// tiersFromEnv reads RATE_LIMIT_<TIER>=minute/hour/day overrides.
func tiersFromEnv() (map[string]TierLimits, error) {
	out := make(map[string]TierLimits)
	for _, name := range TierNames {
		key := "RATE_LIMIT_" + strings.ToUpper(name)
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		tl, err := ParseTierLimits(v)
		if err != nil {
			return nil, invalid(fmt.Sprintf("%s: %v", key, err))
		}
		out[name] = tl
	}
	return out, nil
}

// ParseTierLimits parses "minute/hour/day", e.g. "5/20/50". All three values
// must be positive integers.
func ParseTierLimits(s string) (TierLimits, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return TierLimits{}, fmt.Errorf("want minute/hour/day, got %q", s)
	}
	var n [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil || v == 0 {
			return TierLimits{}, fmt.Errorf("limit %q must be a positive integer", p)
		}
		n[i] = v
	}
	return TierLimits{PerMinute: n[0], PerHour: n[1], PerDay: n[2]}, nil
}

// envValue returns the parsed value of k, or def when k is unset, empty or
// does not parse.
func envValue[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

// typedEnv lists the guard, store and audit options that must parse when set.
// Server and observability settings keep falling back to their defaults.
var typedEnv = []struct {
	key   string
	check func(string) error
}{
	{"GUARD_ENABLED", checkOf(parseBool)},
	{"GUARD_STRICT_MODE", checkOf(parseBool)},
	{"GUARD_STATS_ENABLED", checkOf(parseBool)},
	{"GUARD_TRUST_USER_HEADERS", checkOf(parseBool)},
	{"GUARD_BURST_ENABLED", checkOf(parseBool)},
	{"GUARD_TTL_MINUTE", checkOf(time.ParseDuration)},
	{"GUARD_TTL_HOUR", checkOf(time.ParseDuration)},
	{"GUARD_TTL_DAY", checkOf(time.ParseDuration)},
	{"GUARD_STORE_TIMEOUT", checkOf(time.ParseDuration)},
	{"GUARD_BURST_RPS", checkOf(parseFloat)},
	{"GUARD_BURST_SIZE", checkOf(strconv.Atoi)},
	{"REDIS_DB", checkOf(strconv.Atoi)},
	{"REDIS_DIAL_TIMEOUT", checkOf(time.ParseDuration)},
	{"REDIS_POOL_SIZE", checkOf(strconv.Atoi)},
	{"AUDIT_ENABLED", checkOf(parseBool)},
	{"AUDIT_RETENTION", checkOf(time.ParseDuration)},
}

func checkOf[T any](parse func(string) (T, error)) func(string) error {
	return func(v string) error {
		_, err := parse(v)
		return err
	}
}

func checkTypedEnv() error {
	for _, e := range typedEnv {
		v, ok := os.LookupEnv(e.key)
		if !ok || v == "" {
			continue
		}
		if err := e.check(v); err != nil {
			return invalid(fmt.Sprintf("%s=%q does not parse", e.key, v))
		}
	}
	return nil
}

func getenv(k, def string) string {
	return envValue(k, def, func(v string) (string, error) { return v, nil })
}

func getfloat(k string, def float64) float64 { return envValue(k, def, parseFloat) }

func parseFloat(v string) (float64, error) { return strconv.ParseFloat(v, 64) }

func getint(k string, def int) int { return envValue(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration { return envValue(k, def, time.ParseDuration) }

var errNotBool = errors.New("not a boolean")

func getbool(k string, def bool) bool { return envValue(k, def, parseBool) }

// parseBool accepts 1/0, true/false, yes/no, y/n and on/off in any case.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, errNotBool
}

// splitCSV splits on commas, trimming entries and dropping empty ones.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
