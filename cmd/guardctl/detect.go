package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/tbourn/crm-guard/internal/config"
	"github.com/tbourn/crm-guard/internal/threat"
)

// errFinding marks a scan that found an injection; the finding itself has
// already been printed.
var errFinding = errors.New("sql injection detected")

// errUnsafeQuery marks a query review that found problems; the report has
// already been printed.
var errUnsafeQuery = errors.New("query is not safe")

// errSelftest marks a selftest run with misses or false positives.
var errSelftest = errors.New("selftest failed")

// ScanCmd scans a single value.
type ScanCmd struct {
	Value   string `arg:"" name:"value" help:"Value to scan."`
	Field   string `short:"f" help:"Field name the value arrived in." default:"value"`
	Context string `help:"Field context: auto infers it from the field name." default:"auto" enum:"auto,none,email,name,search,id"`
	Strict  bool   `short:"s" help:"Block keyword hits without a dangerous combination."`
}

type scanResult struct {
	Field   string          `json:"field"`
	Context threat.Context  `json:"context,omitempty"`
	Safe    bool            `json:"safe"`
	Finding *threat.Finding `json:"finding,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (c *ScanCmd) Run(cli *CLI, out io.Writer) error {
	cfg, rules, err := cli.load()
	if err != nil {
		return err
	}
	d, err := threat.New(threat.Options{
		StrictMode:     c.Strict || cfg.Guard.StrictMode,
		CustomPatterns: rules.CustomPatterns,
		SafeContexts:   rules.SafeContexts,
	})
	if err != nil {
		return err
	}

	ctx := scanContext(c.Context, c.Field)
	f := d.Scan(c.Value, c.Field, ctx)
	res := scanResult{Field: c.Field, Context: ctx, Safe: f == nil, Finding: f}
	if f != nil {
		res.Message = f.Message()
	}
	if err := printJSON(out, res); err != nil {
		return err
	}
	if f != nil {
		return errFinding
	}
	return nil
}

func scanContext(name, field string) threat.Context {
	switch name {
	case "auto":
		return threat.InferContext(field)
	case "none":
		return threat.ContextNone
	}
	return threat.Context(name)
}

// SelftestCmd runs the built-in corpus.
type SelftestCmd struct {
	Strict bool `short:"s" help:"Run the detector in strict mode."`
}

func (c *SelftestCmd) Run(out io.Writer) error {
	d, err := threat.New(threat.Options{StrictMode: c.Strict})
	if err != nil {
		return err
	}
	rep := threat.SelfTest(d)
	for _, cat := range rep.Categories {
		mark := "ok  "
		if !cat.Passed() {
			mark = "FAIL"
		}
		fmt.Fprintf(out, "%s %-22s %d/%d\n", mark, cat.Name, cat.Blocked, cat.Total)
		for _, m := range cat.Missed {
			fmt.Fprintf(out, "     missed: %q\n", m)
		}
	}
	for _, fp := range rep.FalsePositives {
		fmt.Fprintf(out, "FAIL false positive: %q\n", fp)
	}
	if !rep.Passed() {
		return errSelftest
	}
	fmt.Fprintln(out, "all payloads blocked, no false positives")
	return nil
}

// RulesCmd groups rules file subcommands.
type RulesCmd struct {
	Validate RulesValidateCmd `cmd:"" help:"Validate a rules file."`
}

// RulesValidateCmd parses and validates a rules file, then compiles its
// patterns into a detector.
type RulesValidateCmd struct {
	File string `arg:"" name:"file" help:"Rules file path." type:"existingfile" placeholder:"PATH"`
}

func (c *RulesValidateCmd) Run(out io.Writer) error {
	rules, err := config.LoadRules(c.File)
	if err != nil {
		return err
	}
	if _, err := threat.New(threat.Options{CustomPatterns: rules.CustomPatterns, SafeContexts: rules.SafeContexts}); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok (%d custom patterns, %d safe contexts, %d exempt paths, %d tier overrides)\n",
		c.File, len(rules.CustomPatterns), len(rules.SafeContexts), len(rules.ExemptPaths), len(rules.Tiers))
	return nil
}

// QueryCmd groups reviews of SQL written by application code.
type QueryCmd struct {
	Check  QueryCheckCmd  `cmd:"" help:"Review a query and its bound parameters."`
	Params QueryParamsCmd `cmd:"" help:"Require parameter markers and clean bound values."`
	Fields QueryFieldsCmd `cmd:"" help:"Restrict the fields a dynamic query may compare."`
}

// QueryFlags are shared by every query review.
type QueryFlags struct {
	SQL    string `arg:"" name:"sql" help:"Query text."`
	Strict bool   `short:"s" help:"Run the detector in strict mode."`
}

func (f QueryFlags) detector(cli *CLI) (*threat.Detector, error) {
	cfg, rules, err := cli.load()
	if err != nil {
		return nil, err
	}
	return threat.New(threat.Options{
		StrictMode:     f.Strict || cfg.Guard.StrictMode,
		CustomPatterns: rules.CustomPatterns,
		SafeContexts:   rules.SafeContexts,
	})
}

func printQueryReport(out io.Writer, rep threat.QueryReport) error {
	if err := printJSON(out, rep); err != nil {
		return err
	}
	if !rep.Safe {
		return errUnsafeQuery
	}
	return nil
}

// QueryCheckCmd runs the general query review.
type QueryCheckCmd struct {
	QueryFlags `embed:""`

	Param []string `short:"p" help:"Bound parameter value; repeat for each." sep:"none"`
}

func (c *QueryCheckCmd) Run(cli *CLI, out io.Writer) error {
	d, err := c.detector(cli)
	if err != nil {
		return err
	}
	return printQueryReport(out, d.CheckQuery(c.SQL, c.Param))
}

// QueryParamsCmd checks a parameterized query.
type QueryParamsCmd struct {
	QueryFlags `embed:""`

	Param []string `short:"p" help:"Bound parameter value; repeat for each." sep:"none"`
}

func (c *QueryParamsCmd) Run(cli *CLI, out io.Writer) error {
	d, err := c.detector(cli)
	if err != nil {
		return err
	}
	return printQueryReport(out, d.CheckParameterized(c.SQL, c.Param))
}

// QueryFieldsCmd checks the fields of a dynamically built query.
type QueryFieldsCmd struct {
	QueryFlags `embed:""`

	Allow []string `short:"a" help:"Allowed field names (comma separated)." required:""`
}

func (c *QueryFieldsCmd) Run(cli *CLI, out io.Writer) error {
	d, err := c.detector(cli)
	if err != nil {
		return err
	}
	return printQueryReport(out, d.CheckDynamic(c.SQL, c.Allow))
}
