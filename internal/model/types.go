package model

import (
	"fmt"
	"sort"
	"strings"
)

// Effect is the class a rule belongs to.
type Effect string

const (
	EffectDeny  Effect = "deny"
	EffectAllow Effect = "allow"
)

// ParseEffect maps a configuration tag to an Effect. Unknown tags are an error,
// never a default.
func ParseEffect(s string) (Effect, error) {
	switch Effect(strings.ToLower(strings.TrimSpace(s))) {
	case EffectDeny:
		return EffectDeny, nil
	case EffectAllow:
		return EffectAllow, nil
	default:
		return "", fmt.Errorf("unknown effect %q (want deny or allow)", s)
	}
}

// Outcome is the terminal result of evaluating one invocation.
type Outcome string

const (
	Deny        Outcome = "deny"
	Allow       Outcome = "allow"
	Passthrough Outcome = "passthrough"
)

// ParseOutcome maps a recorded or expected decision string to an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(s))) {
	case Deny:
		return Deny, nil
	case Allow:
		return Allow, nil
	case Passthrough, "":
		return Passthrough, nil
	default:
		return "", fmt.Errorf("unknown decision %q (want deny, allow or passthrough)", s)
	}
}

// Invocation is one decision request: a tool name plus the fields extracted
// from its input. A field missing from Fields is absent, which is not the
// same as present-but-empty.
type Invocation struct {
	ToolName  string            `json:"tool_name"`
	Fields    map[string]string `json:"fields"`
	SessionID string            `json:"session_id,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
}

// Field returns the value of a field and whether it was present.
func (inv Invocation) Field(name string) (string, bool) {
	v, ok := inv.Fields[name]
	return v, ok
}

// FieldNames returns the present field names in sorted order.
func (inv Invocation) FieldNames() []string {
	names := make([]string, 0, len(inv.Fields))
	for k := range inv.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// RuleRef identifies a compiled rule in decisions and audit records.
type RuleRef struct {
	ID          string `json:"id"`
	Effect      Effect `json:"effect"`
	Index       int    `json:"index"`
	Description string `json:"description,omitempty"`
}

// String renders the rule as "id (description)" for human-facing reasons.
func (r RuleRef) String() string {
	if r.Description == "" {
		return r.ID
	}
	return fmt.Sprintf("%s (%s)", r.ID, r.Description)
}

// Decision is the engine output for one invocation. Rule is nil for passthrough.
type Decision struct {
	Outcome Outcome  `json:"decision"`
	Rule    *RuleRef `json:"rule,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Denied returns a deny decision referencing the matched rule.
func Denied(tool string, ref RuleRef) Decision {
	return Decision{
		Outcome: Deny,
		Rule:    &ref,
		Reason:  fmt.Sprintf("%s denied by rule %s", tool, ref),
	}
}

// Allowed returns an allow decision referencing the matched rule.
func Allowed(tool string, ref RuleRef) Decision {
	return Decision{
		Outcome: Allow,
		Rule:    &ref,
		Reason:  fmt.Sprintf("%s allowed by rule %s", tool, ref),
	}
}

// NoMatch returns the passthrough decision.
func NoMatch() Decision {
	return Decision{Outcome: Passthrough}
}

// Matched reports whether some rule fired.
func (d Decision) Matched() bool {
	return d.Outcome == Deny || d.Outcome == Allow
}

// RuleID returns the matched rule id, or "" for passthrough.
func (d Decision) RuleID() string {
	if d.Rule == nil {
		return ""
	}
	return d.Rule.ID
}
