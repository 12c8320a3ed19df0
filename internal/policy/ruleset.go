package policy

import (
	"github.com/ppiankov/toolgate/internal/alert"
	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/redact"
)

// RuleSet is a compiled policy. It is never mutated after Compile, so one
// value can be shared by any number of concurrent Evaluate calls.
type RuleSet struct {
	deny     []*Rule
	allow    []*Rule
	audit    audit.Settings
	redactor *redact.Redactor
	alerts   []alert.AlertConfig
	hash     string
	source   string
}

// Empty returns a rule set with no rules and auditing off.
func Empty() *RuleSet {
	return &RuleSet{audit: audit.Settings{Level: audit.LevelOff}, hash: HashBytes(nil)}
}

// Evaluate decides one invocation: the first matching deny rule in declared
// order, else the first matching allow rule, else passthrough.
func (rs *RuleSet) Evaluate(inv model.Invocation) model.Decision {
	if rs == nil {
		return model.NoMatch()
	}
	for _, r := range rs.deny {
		if r.Matches(inv) {
			return model.Denied(inv.ToolName, r.Ref)
		}
	}
	for _, r := range rs.allow {
		if r.Matches(inv) {
			return model.Allowed(inv.ToolName, r.Ref)
		}
	}
	return model.NoMatch()
}

// Trace is the outcome of one rule during Explain.
type Trace struct {
	Rule    model.RuleRef `json:"rule"`
	Tool    string        `json:"tool"`
	Matched bool          `json:"matched"`
	Skipped bool          `json:"skipped,omitempty"`
	Detail  string        `json:"detail,omitempty"`
}

// Explanation pairs a decision with the per-rule trace that produced it.
type Explanation struct {
	Decision model.Decision `json:"decision"`
	Traces   []Trace        `json:"traces"`
}

// Explain evaluates inv like Evaluate and also reports, for every rule,
// whether it matched and why not. Rules after the deciding one are marked
// skipped; they are still checked so shadowing is visible.
func (rs *RuleSet) Explain(inv model.Invocation) Explanation {
	exp := Explanation{Decision: rs.Evaluate(inv)}
	if rs == nil {
		return exp
	}

	decided := false
	for _, r := range rs.Rules() {
		why := r.why(inv)
		t := Trace{
			Rule:    r.Ref,
			Tool:    r.Tool,
			Matched: why == "",
			Skipped: decided,
			Detail:  why,
		}
		if t.Matched && !decided {
			t.Detail = "decides"
			decided = true
		}
		exp.Traces = append(exp.Traces, t)
	}
	return exp
}

// Rules returns deny rules followed by allow rules, in evaluation order.
func (rs *RuleSet) Rules() []*Rule {
	out := make([]*Rule, 0, len(rs.deny)+len(rs.allow))
	out = append(out, rs.deny...)
	return append(out, rs.allow...)
}

// DenyRules returns a copy of the deny rules in declared order.
func (rs *RuleSet) DenyRules() []*Rule { return append([]*Rule(nil), rs.deny...) }

// AllowRules returns a copy of the allow rules in declared order.
func (rs *RuleSet) AllowRules() []*Rule { return append([]*Rule(nil), rs.allow...) }

// Len returns the total number of rules.
func (rs *RuleSet) Len() int { return len(rs.deny) + len(rs.allow) }

// Audit returns the resolved audit settings.
func (rs *RuleSet) Audit() audit.Settings { return rs.audit }

// Redactor returns the credential masker for recorded fields, or nil when
// redaction is off.
func (rs *RuleSet) Redactor() *redact.Redactor { return rs.redactor }

// Alerts returns the alert destinations.
func (rs *RuleSet) Alerts() []alert.AlertConfig { return append([]alert.AlertConfig(nil), rs.alerts...) }

// Hash returns the policy file hash the set was compiled from.
func (rs *RuleSet) Hash() string { return rs.hash }

// Source returns the policy file path, "" for an in-memory or default policy.
func (rs *RuleSet) Source() string { return rs.source }

// Shadow reports a rule that can never decide because an earlier rule
// matches everything it matches.
type Shadow struct {
	Rule model.RuleRef `json:"rule"`
	By   model.RuleRef `json:"by"`
	Why  string        `json:"why"`
}

// Shadowed lists unreachable rules. It only detects the cheap cases: an
// earlier rule for the same tool with no constraints, or an earlier rule
// with an identical signature. Deny rules shadow allow rules the same way.
// Shadowing is legal; validate --strict reports it as a warning.
func (rs *RuleSet) Shadowed() []Shadow {
	var out []Shadow
	rules := rs.Rules()
	for j, later := range rules {
		for _, earlier := range rules[:j] {
			if earlier.Tool != later.Tool {
				continue
			}
			var why string
			switch {
			case earlier.Blanket():
				why = "earlier blanket rule for " + earlier.Tool
			case earlier.Signature() == later.Signature():
				why = "identical constraints"
			default:
				continue
			}
			out = append(out, Shadow{Rule: later.Ref, By: earlier.Ref, Why: why})
			break
		}
	}
	return out
}
