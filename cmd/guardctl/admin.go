package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tbourn/crm-guard/internal/ratelimit"
	"github.com/tbourn/crm-guard/internal/utils"
)

// maxEvents matches the monitoring API page cap.
const maxEvents = 500

var errNoCaller = errors.New("one of --ip, --user or --api-key is required")

// CallerFlags select whose counters a command reads or clears.
type CallerFlags struct {
	IP     string `help:"Client IP address." xor:"caller"`
	User   string `help:"User id." xor:"caller"`
	APIKey string `name:"api-key" help:"API key." xor:"caller"`
	Role   string `help:"Role of --user; picks its tier."`
}

func (f CallerFlags) identity() (ratelimit.Identity, ratelimit.CallerContext, error) {
	switch {
	case f.APIKey != "":
		return ratelimit.APIKeyIdentity(f.APIKey), ratelimit.CallerContext{APIKey: f.APIKey}, nil
	case f.User != "":
		return ratelimit.UserIdentity(f.User), ratelimit.CallerContext{UserID: f.User, Role: f.Role}, nil
	case f.IP != "":
		return ratelimit.IPIdentity(f.IP), ratelimit.CallerContext{}, nil
	}
	return ratelimit.Identity{}, ratelimit.CallerContext{}, errNoCaller
}

// StatusCmd prints usage per window.
type StatusCmd struct {
	CallerFlags `embed:""`

	Tier string `short:"t" help:"Tier to report against; defaults to the caller's own tier."`
}

func (c *StatusCmd) Run(ctx context.Context, cli *CLI, out io.Writer) error {
	id, caller, err := c.identity()
	if err != nil {
		return err
	}
	s, err := cli.stack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	tier := s.Limiter.TierFor("", id, caller)
	if c.Tier != "" {
		t, ok := s.Limiter.Tier(c.Tier)
		if !ok {
			return fmt.Errorf("%w: %q", ratelimit.ErrInvalidTier, c.Tier)
		}
		tier = t
	}
	st, err := s.Limiter.Status(ctx, id, tier)
	if err != nil {
		return err
	}
	return printJSON(out, st)
}

// ResetCmd clears the counters of one caller.
type ResetCmd struct {
	CallerFlags `embed:""`
}

func (c *ResetCmd) Run(ctx context.Context, cli *CLI, out io.Writer) error {
	id, _, err := c.identity()
	if err != nil {
		return err
	}
	s, err := cli.stack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Limiter.Reset(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "reset %s\n", id.StableKey)
	return nil
}

// EventsCmd pages through the audit trail.
type EventsCmd struct {
	Type   string `help:"Only events of this type (rate_limit_exceeded, injection_blocked, guard_error)."`
	Offset int    `help:"Events to skip." default:"0"`
	Limit  int    `short:"n" help:"Events to return (at most 500)." default:"50"`
}

func (c *EventsCmd) Run(ctx context.Context, cli *CLI, out io.Writer) error {
	s, err := cli.stack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	offset, limit := utils.ClampPage(c.Offset, c.Limit, maxEvents)
	page, err := s.Audit.List(ctx, c.Type, offset, limit)
	if err != nil {
		return err
	}
	return printJSON(out, page)
}

// PruneCmd enforces the audit retention.
type PruneCmd struct {
	OlderThan time.Duration `name:"older-than" help:"Retention to enforce; defaults to AUDIT_RETENTION."`
}

func (c *PruneCmd) Run(ctx context.Context, cli *CLI, out io.Writer) error {
	s, err := cli.stack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	retention := c.OlderThan
	if retention == 0 {
		retention = s.Config.Audit.Retention
	}
	n, err := s.Audit.Prune(ctx, retention)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pruned %d events older than %s\n", n, retention)
	return nil
}
