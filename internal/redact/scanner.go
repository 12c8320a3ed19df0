package redact

import (
	"regexp"
	"sort"
	"strings"
)

// PatternType identifies the category of secret.
type PatternType string

const (
	PatternCred   PatternType = "CRED"   // key=value where the key names a secret
	PatternAuth   PatternType = "AUTH"   // Authorization header or bearer token
	PatternToken  PatternType = "TOKEN"  // well-known token formats
	PatternKey    PatternType = "KEY"    // PEM private key material
	PatternURL    PatternType = "URL"    // password in URL userinfo
	PatternCustom PatternType = "CUSTOM" // operator-supplied pattern
)

// Match is a single secret found in text. Start and End delimit the part
// to mask, which for key=value pairs is the value only.
type Match struct {
	Type  PatternType
	Value string
	Start int
	End   int
}

type builtin struct {
	typ PatternType
	re  *regexp.Regexp
	// group is the submatch to mask; 0 masks the whole match.
	group int
}

// builtins are checked in order; earlier types win on overlap.
var builtins = []builtin{
	{PatternKey, regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?(?:-----END [A-Z ]*PRIVATE KEY-----|$)`), 0},
	{PatternURL, regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s:/@]+:([^\s@/]+)@`), 1},
	{PatternAuth, regexp.MustCompile(`(?i)\bauthorization:[ \t]*((?:(?:bearer|basic|token)[ \t]+)?[A-Za-z0-9\-._~+/]+=*)`), 1},
	{PatternAuth, regexp.MustCompile(`(?i)\bbearer[ \t]+([A-Za-z0-9\-._~+/]{8,}=*)`), 1},
	{PatternToken, regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`), 0},
	{PatternToken, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), 0},
	{PatternToken, regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{22,}\b`), 0},
	{PatternToken, regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9\-]{10,}\b`), 0},
	{PatternToken, regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{20,}\b`), 0},
	{PatternCred, regexp.MustCompile(`(?i)\b[A-Z0-9_]*(?:password|passwd|secret|token|api_?key|access_?key|auth)[A-Z0-9_]*[ \t]*[=:][ \t]*("[^"]*"|'[^']*'|[^\s"']+)`), 1},
}

// Scan finds all built-in secret patterns in text and returns
// non-overlapping matches sorted by position (earliest first).
func Scan(text string) []Match {
	return scan(text, nil)
}

func scan(text string, custom []*regexp.Regexp) []Match {
	var matches []Match

	add := func(typ PatternType, start, end int) {
		if start < 0 || end <= start {
			return
		}
		for _, m := range matches {
			if start < m.End && m.Start < end {
				return
			}
		}
		matches = append(matches, Match{Type: typ, Value: text[start:end], Start: start, End: end})
	}

	for _, b := range builtins {
		for _, loc := range b.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*b.group], loc[2*b.group+1]
			// Keep quotes around a quoted value so the result still parses.
			if v := text[start:end]; len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
				start, end = start+1, end-1
			}
			add(b.typ, start, end)
		}
	}
	for _, re := range custom {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			add(PatternCustom, loc[0], loc[1])
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})
	return matches
}

// mask replaces every match in text with its placeholder.
func mask(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m.Start])
		b.WriteString(Placeholder(m.Type))
		last = m.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// Placeholder is the text that replaces a secret of type t.
func Placeholder(t PatternType) string {
	return "[REDACTED:" + string(t) + "]"
}
