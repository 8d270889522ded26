package threat

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Context selects a field-specific allow-list rule.
type Context string

const (
	ContextNone   Context = ""
	ContextEmail  Context = "email"
	ContextName   Context = "name"
	ContextSearch Context = "search"
	ContextID     Context = "id"
)

// contextRule bounds the length of a value and restricts its alphabet,
// either with a whole-value regex or with extra punctuation allowed next to
// letters, digits and whitespace.
type contextRule struct {
	minLen  int
	maxLen  int
	pattern *regexp.Regexp
	extra   string
}

var contextRules = map[Context]contextRule{
	ContextEmail: {
		maxLen:  254,
		pattern: regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`),
	},
	ContextName: {
		maxLen:  100,
		pattern: regexp.MustCompile(`^[a-zA-Z\s\-'.]+$`),
	},
	ContextSearch: {
		minLen: 2,
		maxLen: 100,
		extra:  " -.@#",
	},
	ContextID: {
		maxLen:  10,
		pattern: regexp.MustCompile(`^\d+$`),
	},
}

// allows reports whether v satisfies the rule for c. Unknown contexts allow
// everything.
func allows(c Context, v string) bool {
	rule, ok := contextRules[c]
	if !ok {
		return true
	}
	n := utf8.RuneCountInString(v)
	if rule.maxLen > 0 && n > rule.maxLen {
		return false
	}
	if n < rule.minLen {
		return false
	}
	if rule.pattern != nil && !rule.pattern.MatchString(v) {
		return false
	}
	if rule.extra != "" {
		for _, r := range v {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || strings.ContainsRune(rule.extra, r) {
				continue
			}
			return false
		}
	}
	return true
}

// InferContext maps a field name to a context by case-insensitive substring,
// checked in the order email, name, search, id.
func InferContext(field string) Context {
	f := strings.ToLower(field)
	for _, c := range []Context{ContextEmail, ContextName, ContextSearch, ContextID} {
		if strings.Contains(f, string(c)) {
			return c
		}
	}
	return ContextNone
}
