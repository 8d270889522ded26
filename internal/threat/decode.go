package threat

import (
	"html"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Decode normalises a value for inspection only: percent-decoding (twice
// when the first pass still leaves a '%'), HTML entity decoding, then NFKC
// folding so full-width quotes and letters compare as ASCII. The original
// value is never rewritten.
func Decode(s string) string {
	if s == "" {
		return ""
	}
	out := unquote(s)
	if strings.Contains(out, "%") {
		out = unquote(out)
	}
	out = html.UnescapeString(out)
	return norm.NFKC.String(out)
}

// unquote decodes valid %XX escapes and keeps malformed ones verbatim, so a
// stray "%zz" cannot switch decoding off for the rest of the value. '+' is
// left alone.
func unquote(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
