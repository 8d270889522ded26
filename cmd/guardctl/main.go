// Command guardctl inspects and operates the request guard from a shell.
//
// Usage:
//
//	guardctl scan "1' OR '1'='1" --field search
//	guardctl selftest
//	guardctl rules validate rules.yaml
//	guardctl query params "SELECT name FROM contacts WHERE id = ?" -p 42
//	guardctl query fields "SELECT id FROM contacts WHERE email = ?" --allow email,status
//	guardctl status --ip 203.0.113.9
//	guardctl reset --user 42
//	guardctl events --type injection_blocked --limit 20
//	guardctl prune
//
// Commands that touch counters or the audit trail read the same environment
// as the server (GUARD_*, REDIS_*, AUDIT_*), so they see the same keys.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Scan     ScanCmd     `cmd:"" help:"Scan one value for SQL injection."`
	Selftest SelftestCmd `cmd:"" help:"Run the built-in attack corpus through the detector."`
	Rules    RulesCmd    `cmd:"" help:"Rules file tools."`
	Query    QueryCmd    `cmd:"" help:"Review SQL written by application code."`
	Status   StatusCmd   `cmd:"" help:"Show rate limit usage for a caller without counting."`
	Reset    ResetCmd    `cmd:"" help:"Clear every rate limit window of a caller."`
	Events   EventsCmd   `cmd:"" help:"List recorded security events."`
	Prune    PruneCmd    `cmd:"" help:"Delete audit events older than the retention."`

	Env     string `help:"Dotenv file loaded before the environment is read." type:"path" placeholder:"PATH"`
	Verbose bool   `short:"v" help:"Log guard warnings to stderr."`
}

// exitFinding is returned by main when scan reports a finding or a query
// review fails, so scripts can branch on it.
const exitFinding = 2

func newParser(ctx context.Context, cli *CLI, out io.Writer) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("guardctl"),
		kong.Description("Inspect and operate the CRM request guard."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.BindTo(out, (*io.Writer)(nil)),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	parser, err := newParser(ctx, &cli, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	err = kctx.Run(&cli)
	switch {
	case err == nil:
	case errors.Is(err, errFinding), errors.Is(err, errUnsafeQuery):
		stop()
		os.Exit(exitFinding)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
