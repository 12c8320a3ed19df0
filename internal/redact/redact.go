// Package redact masks credentials in invocation fields before they are
// written to the audit trail or sent to alert webhooks. Decisions are always
// made on the unmasked values.
package redact

import (
	"fmt"
	"maps"
	"regexp"
)

// Redactor masks built-in secret formats plus operator-supplied patterns.
// A nil *Redactor masks nothing.
type Redactor struct {
	custom  []*regexp.Regexp
	sources []string
}

// New compiles extra patterns on top of the built-in ones.
func New(extra []string) (*Redactor, error) {
	r := &Redactor{}
	for i, src := range extra {
		if src == "" {
			return nil, fmt.Errorf("redact_patterns[%d]: empty pattern", i)
		}
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("redact_patterns[%d] %q: invalid regex: %w", i, src, err)
		}
		r.custom = append(r.custom, re)
		r.sources = append(r.sources, src)
	}
	return r, nil
}

// Patterns returns the operator-supplied pattern sources.
func (r *Redactor) Patterns() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.sources...)
}

// Enabled reports whether r masks anything.
func (r *Redactor) Enabled() bool { return r != nil }

// Text returns text with every secret replaced by a placeholder.
func (r *Redactor) Text(text string) string {
	if r == nil {
		return text
	}
	return mask(text, scan(text, r.custom))
}

// Fields returns a masked copy of fields. A nil Redactor returns fields
// itself, unchanged.
func (r *Redactor) Fields(fields map[string]string) map[string]string {
	if r == nil || fields == nil {
		return fields
	}
	out := maps.Clone(fields)
	for k, v := range out {
		out[k] = r.Text(v)
	}
	return out
}
