// Package threat classifies request values as safe or as SQL injection
// attempts.
//
// This file provides the Detector. Scan() decodes a value once and runs a
// fixed sequence of checks, reporting the first one that fires:
//
//  1. context rules for fields whose name implies a shape (email, name,
//     search, id); an out-of-shape value is a context_violation
//  2. baseline patterns: quote breaks followed by comments, OR/AND
//     tautologies, stacked queries, CHAR() concatenation
//  3. advanced patterns: blind, union, error-based and introspection
//     techniques
//  4. the keyword heuristic: a dangerous keyword plus a dangerous
//     combination, or any unsuppressed keyword in strict mode
//
// Design notes:
//   - Decoding (percent, HTML entities, NFKC) is for inspection only; the
//     request value is never rewritten.
//   - Findings carry a truncated decoded snippet and the method name. The
//     method picks the client-facing Message() and labels the audit event.
//   - Custom patterns and safe contexts from the rules file are compiled in
//     New(); a bad expression fails construction instead of being skipped.
//   - CheckQuery(), CheckParameterized() and CheckDynamic() (query.go) reuse
//     the same checks to review SQL written by application code.
package threat

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Method names the check that produced a finding.
type Method string

const (
	MethodPattern  Method = "pattern_matching"
	MethodAdvanced Method = "advanced_pattern"
	MethodKeyword  Method = "keyword_detection"
	MethodContext  Method = "context_violation"
)

// Methods lists every detection method in evaluation order.
var Methods = []Method{MethodContext, MethodPattern, MethodAdvanced, MethodKeyword}

// snippetLen caps the decoded excerpt kept in a finding.
const snippetLen = 100

// ErrInvalidPattern is wrapped by PatternError.
var ErrInvalidPattern = errors.New("threat: invalid pattern")

// PatternError reports a custom expression that failed to compile.
type PatternError struct {
	Expr string
	Err  error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("%v %q: %v", ErrInvalidPattern, e.Expr, e.Err)
}

func (e *PatternError) Unwrap() []error { return []error{ErrInvalidPattern, e.Err} }

// Finding describes one offending field.
type Finding struct {
	Field   string  `json:"field"`
	Method  Method  `json:"detection_method"`
	Context Context `json:"context,omitempty"`
	Snippet string  `json:"snippet"`
}

// Message is the human-readable detail returned to the client.
func (f Finding) Message() string {
	switch f.Method {
	case MethodContext:
		return fmt.Sprintf("Input violates context rules for field '%s'", f.Field)
	case MethodPattern:
		return fmt.Sprintf("SQL injection pattern detected in field '%s'", f.Field)
	case MethodAdvanced:
		return fmt.Sprintf("Advanced SQL injection pattern detected in field '%s'", f.Field)
	case MethodKeyword:
		return fmt.Sprintf("SQL keywords detected in field '%s'", f.Field)
	}
	return fmt.Sprintf("SQL injection detected in field '%s'", f.Field)
}

// DetectedError carries a finding for callers that prefer error values.
type DetectedError struct {
	Finding Finding
}

func (e *DetectedError) Error() string { return e.Finding.Message() }

// Err wraps f as a *DetectedError.
func (f Finding) Err() error { return &DetectedError{Finding: f} }

// Options configures a Detector.
type Options struct {
	// StrictMode blocks a keyword hit even without a dangerous combination.
	StrictMode bool
	// Stats enables the counters returned by Stats.
	Stats bool
	// CustomPatterns extend the baseline set (reported as pattern_matching).
	CustomPatterns []string
	// SafeContexts extend the shapes that suppress a keyword hit.
	SafeContexts []string
}

// strategy is one pattern-style check, run in order after the context rule.
type strategy interface {
	method() Method
	match(decoded string) bool
}

type patternSet struct {
	m   Method
	res []*regexp.Regexp
}

func (p patternSet) method() Method { return p.m }

func (p patternSet) match(s string) bool {
	for _, re := range p.res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Detector is safe for concurrent use; it holds only compiled expressions
// and atomic counters.
type Detector struct {
	strategies []strategy
	strict     bool
	stats      *stats
}

// New compiles the configured rules. Any invalid expression is returned as
// a *PatternError and no Detector is built.
func New(opts Options) (*Detector, error) {
	custom, err := compileAll(opts.CustomPatterns)
	if err != nil {
		return nil, err
	}
	safe, err := compileAll(append(append([]string(nil), defaultSafeContexts...), opts.SafeContexts...))
	if err != nil {
		return nil, err
	}
	baseline := append(append([]*regexp.Regexp(nil), baselineRE...), custom...)

	d := &Detector{
		strategies: []strategy{
			patternSet{m: MethodPattern, res: baseline},
			patternSet{m: MethodAdvanced, res: advancedRE},
			keywordSet{safe: safe, strict: opts.StrictMode},
		},
		strict: opts.StrictMode,
	}
	if opts.Stats {
		d.stats = newStats()
	}
	return d, nil
}

// Scan inspects a single value. It returns nil when the value is safe.
func (d *Detector) Scan(value, field string, ctx Context) *Finding {
	decoded := Decode(value)
	f := d.classify(decoded, field, ctx)
	d.stats.record(f)
	return f
}

func (d *Detector) classify(decoded, field string, ctx Context) *Finding {
	if decoded == "" {
		return nil
	}
	if ctx != ContextNone && !allows(ctx, decoded) {
		return newFinding(field, MethodContext, ctx, decoded)
	}
	for _, s := range d.strategies {
		if s.match(decoded) {
			return newFinding(field, s.method(), ctx, decoded)
		}
	}
	return nil
}

// StrictMode reports whether bare keyword hits block.
func (d *Detector) StrictMode() bool { return d.strict }

func newFinding(field string, m Method, ctx Context, decoded string) *Finding {
	return &Finding{Field: field, Method: m, Context: ctx, Snippet: truncate(decoded, snippetLen)}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
