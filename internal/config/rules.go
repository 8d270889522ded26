package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules is the optional YAML rules file referenced by GUARD_RULES_FILE.
//
// Example:
//
//	custom_patterns:
//	  - "(?i)\\bxp_dirtree\\b"
//	safe_contexts:
//	  - "(?i)\\border\\s+by\\s+\\w+\\s+(asc|desc)\\b"
//	exempt_paths:
//	  - /internal/probe/
//	tiers:
//	  login: {per_minute: 3, per_hour: 10, per_day: 30}
type Rules struct {
	CustomPatterns []string              `yaml:"custom_patterns"`
	SafeContexts   []string              `yaml:"safe_contexts"`
	ExemptPaths    []string              `yaml:"exempt_paths"`
	Tiers          map[string]TierLimits `yaml:"tiers"`
}

// LoadRules reads and validates a rules file. An empty path yields empty Rules.
func LoadRules(path string) (Rules, error) {
	if strings.TrimSpace(path) == "" {
		return Rules{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Rules{}, fmt.Errorf("%w: open rules file: %v", ErrInvalidConfig, err)
	}
	defer f.Close()
	return ParseRules(f)
}

// ParseRules decodes rules from r, rejecting unknown keys, malformed regular
// expressions, unknown tier names and zero limits.
func ParseRules(r io.Reader) (Rules, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Rules{}, fmt.Errorf("%w: read rules: %v", ErrInvalidConfig, err)
	}
	var rules Rules
	if len(bytes.TrimSpace(raw)) == 0 {
		return rules, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil && !errors.Is(err, io.EOF) {
		return Rules{}, fmt.Errorf("%w: decode rules: %v", ErrInvalidConfig, err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Validate checks every entry; the first problem is returned.
func (r Rules) Validate() error {
	for i, p := range r.CustomPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return invalid(fmt.Sprintf("custom_patterns[%d]: %v", i, err))
		}
	}
	for i, p := range r.SafeContexts {
		if _, err := regexp.Compile(p); err != nil {
			return invalid(fmt.Sprintf("safe_contexts[%d]: %v", i, err))
		}
	}
	for i, p := range r.ExemptPaths {
		if !strings.HasPrefix(p, "/") {
			return invalid(fmt.Sprintf("exempt_paths[%d] %q must start with '/'", i, p))
		}
	}
	for name, tl := range r.Tiers {
		if !knownTier(name) {
			return invalid(fmt.Sprintf("tiers: unknown tier %q", name))
		}
		if tl.PerMinute == 0 || tl.PerHour == 0 || tl.PerDay == 0 {
			return invalid(fmt.Sprintf("tiers.%s: limits must be positive", name))
		}
	}
	return nil
}

// Apply merges the rules into cfg: tier overrides from the file win over the
// built-in table but lose to explicit RATE_LIMIT_* variables, and exempt
// paths are appended.
func (r Rules) Apply(cfg *GuardConfig) {
	if cfg.Tiers == nil {
		cfg.Tiers = make(map[string]TierLimits)
	}
	for name, tl := range r.Tiers {
		if _, set := cfg.Tiers[name]; !set {
			cfg.Tiers[name] = tl
		}
	}
	if len(r.ExemptPaths) > 0 {
		paths := make([]string, 0, len(cfg.ExemptPaths)+len(r.ExemptPaths))
		paths = append(paths, cfg.ExemptPaths...)
		paths = append(paths, r.ExemptPaths...)
		cfg.ExemptPaths = paths
	}
}

func knownTier(name string) bool {
	for _, n := range TierNames {
		if n == name {
			return true
		}
	}
	return false
}
