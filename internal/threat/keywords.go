package threat

import (
	"regexp"
	"strings"
	"unicode"
)

// keywords gate the combination check. A hit alone never blocks outside
// strict mode. The user(), database() and version() call forms are left to
// the advanced patterns; the bare words "user" and "version" are too common
// in CRM data to count as keywords.
var keywords = map[string]struct{}{
	// statements and clauses
	"select": {}, "insert": {}, "update": {}, "delete": {}, "drop": {},
	"create": {}, "alter": {}, "truncate": {}, "exec": {}, "execute": {},
	"union": {}, "where": {}, "order": {}, "group": {}, "having": {},
	"limit": {}, "offset": {}, "table": {}, "database": {}, "schema": {},

	// introspection and file access
	"information_schema": {}, "sysobjects": {}, "syscolumns": {}, "sysdatabases": {},
	"mysql": {}, "performance_schema": {}, "pg_catalog": {}, "load_file": {},
	"dumpfile": {}, "sp_executesql": {}, "xp_cmdshell": {},

	// functions
	"substring": {}, "ascii": {}, "char": {}, "concat": {}, "cast": {},
	"convert": {}, "extractvalue": {}, "updatexml": {}, "benchmark": {},
	"sleep": {}, "waitfor": {},

	// control flow
	"begin": {}, "end": {}, "declare": {}, "set": {}, "if": {}, "case": {},
	"when": {}, "then": {}, "else": {},
}

// keywordPhrases are multi-word keywords.
var keywordPhrases = regexp.MustCompile(`\b(into\s+outfile|procedure\s+analyse)\b`)

// defaultSafeContexts are query shapes that suppress a keyword hit.
var defaultSafeContexts = []string{
	`\bwhere\s+\w+\s*=\s*%s`,
	`\bselect\s+\w+\s+from\s+\w+`,
	`\binsert\s+into\s+\w+`,
}

// combination is a pair of terms that are dangerous together, in any order.
type combination struct{ a, b *regexp.Regexp }

var combinations = []combination{
	{regexp.MustCompile(`\bor\b`), regexp.MustCompile(`\b\d+\b`)},
	{regexp.MustCompile(`\band\b`), regexp.MustCompile(`\b\d+\b`)},
	{regexp.MustCompile(`\bselect\b`), regexp.MustCompile(`\bunion\b`)},
	{regexp.MustCompile(`\bdrop\b`), regexp.MustCompile(`\btable\b`)},
}

// keywordSet implements the two-stage keyword heuristic.
type keywordSet struct {
	safe   []*regexp.Regexp
	strict bool
}

func (keywordSet) method() Method { return MethodKeyword }

func (k keywordSet) match(s string) bool {
	lower := strings.ToLower(s)
	if !hasKeyword(lower) {
		return false
	}
	for _, re := range k.safe {
		if re.MatchString(lower) {
			return false
		}
	}
	if k.strict {
		return true
	}
	for _, c := range combinations {
		if c.a.MatchString(lower) && c.b.MatchString(lower) {
			return true
		}
	}
	return false
}

func hasKeyword(lower string) bool {
	if keywordPhrases.MatchString(lower) {
		return true
	}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	for _, w := range words {
		if _, ok := keywords[w]; ok {
			return true
		}
	}
	return false
}
