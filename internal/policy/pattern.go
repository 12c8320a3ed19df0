package policy

import (
	"fmt"
	"regexp"
)

// Pattern is a compiled field constraint: the value must match include and
// must not match exclude. Matching is unanchored; authors anchor with ^ and $.
type Pattern struct {
	include *regexp.Regexp
	exclude *regexp.Regexp
}

// CompilePattern compiles an include pattern and an optional exclude pattern.
// An empty include is rejected; an empty exclude means no exclusion.
func CompilePattern(include, exclude string) (Pattern, error) {
	if include == "" {
		return Pattern{}, ErrEmptyPattern
	}
	inc, err := regexp.Compile(include)
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, include, err)
	}

	p := Pattern{include: inc}
	if exclude != "" {
		exc, err := regexp.Compile(exclude)
		if err != nil {
			return Pattern{}, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, exclude, err)
		}
		p.exclude = exc
	}
	return p, nil
}

// LiteralPattern matches value exactly.
func LiteralPattern(value, exclude string) (Pattern, error) {
	return CompilePattern("^"+regexp.QuoteMeta(value)+"$", exclude)
}

// Satisfies reports whether value passes the constraint.
func (p Pattern) Satisfies(value string) bool {
	if p.include == nil || !p.include.MatchString(value) {
		return false
	}
	return p.exclude == nil || !p.exclude.MatchString(value)
}

// Include returns the include pattern source.
func (p Pattern) Include() string {
	if p.include == nil {
		return ""
	}
	return p.include.String()
}

// Exclude returns the exclude pattern source, "" when there is none.
func (p Pattern) Exclude() string {
	if p.exclude == nil {
		return ""
	}
	return p.exclude.String()
}

// explain returns why value fails the constraint, or "" when it passes.
func (p Pattern) explain(value string) string {
	if p.include == nil || !p.include.MatchString(value) {
		return fmt.Sprintf("does not match %q", p.Include())
	}
	if p.exclude != nil && p.exclude.MatchString(value) {
		return fmt.Sprintf("excluded by %q", p.Exclude())
	}
	return ""
}
