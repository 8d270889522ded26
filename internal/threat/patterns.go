package threat

import "regexp"

// baselinePatterns cover classic injection syntax. Each one needs the
// surrounding attack shape (a closing quote followed by a comment, a
// boolean comparison or a statement break), so an apostrophe inside a name
// or a slash inside a URL is not enough to match. Single and double quotes
// are treated alike.
var baselinePatterns = []string{
	// quote (optionally closing a paren) followed by a SQL comment
	`["']\)*\s*(--|/\*)`,
	`["']\)*#`,
	// quote followed later by a comment that ends the value
	`["'].*(--|#)\s*$`,
	// quote followed by OR/AND and a literal comparison, bare number or boolean
	`(?i)["'][\s)]*\b(or|and)\s+\d+\b`,
	`(?i)["'][\s)]*\b(or|and)\s+\(*\s*["'][^"']*["']\s*(=|<|>|\blike\b)`,
	`(?i)["'][\s)]*\b(or|and)\s+\w+\s*(=|<>|<|>)\s*\w+`,
	`(?i)["'][\s)]*\b(or|and)\s+(true|false|not)\b`,
	// OR/AND tautology between quoted literals
	`(?i)\b(or|and)\s+\(*\s*["'][^"']*["']\s*=\s*["'][^"']*["']`,
	// stacked query right after a quote
	`["']\)*\s*;`,
	// quote-free concatenation via CHAR()/CHR()
	`(?i)(\+|&|\|\|)\s*(char|chr)\s*\(\s*\d+\s*\)`,
	// stored procedure execution
	`(?i)\bexec(ute)?\s*\(?\s*(xp|sp)_\w+`,
	// empty and MySQL versioned comments used to split keywords
	`/\*!?\d*\*/`,
}

// advancedPatterns cover blind, union, error-based, stacked and
// introspection techniques.
var advancedPatterns = []string{
	// time-based blind
	`(?i)\bwaitfor\s+delay\b`,
	`(?i)\bsleep\s*\(`,
	`(?i)\bbenchmark\s*\(`,
	`(?i)\bpg_sleep\s*\(`,

	// boolean-based blind
	`(?i)\b(and|or)\s+\d+\s*=\s*\d+`,
	`(?i)\band\s+['"]\w+['"]\s*=\s*['"]\w+['"]`,
	`(?i)\band\s+(length|substring|ascii|count)\s*\(`,

	// union-based
	`(?i)\bunion(\s+all)?\s+select\b`,
	`(?i)\bselect\b.+\bfrom\b.+\bunion\b`,

	// error-based
	`(?i)\bextractvalue\s*\(`,
	`(?i)\bupdatexml\s*\(`,
	`(?i)\bfloor\s*\(.*\brand\s*\(`,
	`(?i)\bcount\s*\([^)]*\)\s*,?\s*concat\b`,

	// stacked DDL/DML after a terminator
	`(?i);\s*(drop|alter|create|truncate|insert|update|delete)\s`,

	// file access and introspection
	`(?i)\bprocedure\s+analyse\b`,
	`(?i)\bload_file\s*\(`,
	`(?i)\binto\s+(out|dump)file\b`,
	`(?i)\bdumpfile\b`,
	`(?i)\binformation_schema\b`,
	`(?i)\b(sysobjects|syscolumns|sysdatabases)\b`,
	`(?i)\bperformance_schema\b`,
	`(?i)\bpg_catalog\b`,
	`(?i)\b(user|database|version)\s*\(\s*\)`,
	`(?i)@@(version|servername|datadir)\b`,
	`(?i)\b(xp_cmdshell|sp_executesql)\b`,
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := regexp.Compile(e)
		if err != nil {
			return nil, &PatternError{Expr: e, Err: err}
		}
		out = append(out, re)
	}
	return out, nil
}

func mustCompileAll(exprs []string) []*regexp.Regexp {
	res, err := compileAll(exprs)
	if err != nil {
		panic(err)
	}
	return res
}

var (
	baselineRE = mustCompileAll(baselinePatterns)
	advancedRE = mustCompileAll(advancedPatterns)
)
