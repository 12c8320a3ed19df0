package policy

import (
	"fmt"
	"strings"

	"github.com/ppiankov/toolgate/internal/model"
)

// FieldConstraint binds a Pattern to one named field. Literal is set when
// the rule gave an exact value rather than a regex.
type FieldConstraint struct {
	Name    string
	Pattern Pattern
	Literal bool
}

// Rule is one compiled policy entry. Fields are sorted by name.
type Rule struct {
	Ref    model.RuleRef
	Tool   string
	Fields []FieldConstraint
}

// Matches reports whether the rule applies to inv: same tool, and every
// constrained field present and satisfied. No constraints matches any
// invocation of the tool.
func (r *Rule) Matches(inv model.Invocation) bool {
	if r.Tool != inv.ToolName {
		return false
	}
	for _, fc := range r.Fields {
		v, ok := inv.Fields[fc.Name]
		if !ok || !fc.Pattern.Satisfies(v) {
			return false
		}
	}
	return true
}

// Blanket reports whether the rule has no field constraints.
func (r *Rule) Blanket() bool { return len(r.Fields) == 0 }

// Signature is a canonical rendering of what the rule matches, ignoring its
// id, description and effect. Two rules with the same signature match the
// same invocations.
func (r *Rule) Signature() string {
	var b strings.Builder
	b.WriteString(r.Tool)
	for _, fc := range r.Fields {
		fmt.Fprintf(&b, "|%s~%s", fc.Name, fc.Pattern.Include())
		if ex := fc.Pattern.Exclude(); ex != "" {
			fmt.Fprintf(&b, "!%s", ex)
		}
	}
	return b.String()
}

// why returns a short reason the rule does not match inv, or "" if it does.
func (r *Rule) why(inv model.Invocation) string {
	if r.Tool != inv.ToolName {
		return fmt.Sprintf("tool is %s, rule wants %s", inv.ToolName, r.Tool)
	}
	for _, fc := range r.Fields {
		v, ok := inv.Fields[fc.Name]
		if !ok {
			return fmt.Sprintf("field %s absent", fc.Name)
		}
		if reason := fc.Pattern.explain(v); reason != "" {
			return fmt.Sprintf("%s %s", fc.Name, reason)
		}
	}
	return ""
}

// FieldView is the printable form of a FieldConstraint.
type FieldView struct {
	Name    string `json:"name"`
	Include string `json:"include"`
	Exclude string `json:"exclude,omitempty"`
	Literal bool   `json:"literal,omitempty"`
}

// RuleView is the printable form of a Rule, used by listings and the wire
// protocols.
type RuleView struct {
	ID          string      `json:"id"`
	Effect      string      `json:"effect"`
	Index       int         `json:"index"`
	Tool        string      `json:"tool"`
	Description string      `json:"description,omitempty"`
	Fields      []FieldView `json:"fields,omitempty"`
}

// View returns the printable form of r.
func (r *Rule) View() RuleView {
	v := RuleView{
		ID:          r.Ref.ID,
		Effect:      string(r.Ref.Effect),
		Index:       r.Ref.Index,
		Tool:        r.Tool,
		Description: r.Ref.Description,
	}
	for _, fc := range r.Fields {
		v.Fields = append(v.Fields, FieldView{
			Name:    fc.Name,
			Include: fc.Pattern.Include(),
			Exclude: fc.Pattern.Exclude(),
			Literal: fc.Literal,
		})
	}
	return v
}

// Views returns the printable form of every rule in evaluation order.
func (rs *RuleSet) Views() []RuleView {
	if rs == nil {
		return nil
	}
	rules := rs.Rules()
	out := make([]RuleView, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.View())
	}
	return out
}
