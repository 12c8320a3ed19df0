package policydiff

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// RuleChange represents a rule addition, removal, modification or move.
// Rules are matched across policies by what they match (tool and
// constraints), not by id.
type RuleChange struct {
	Type   string       `json:"type"` // "added", "removed", "changed", "moved"
	Effect model.Effect `json:"effect"`
	Rule   string       `json:"rule"`
}

// DiffResult holds the comparison of two compiled rule sets.
type DiffResult struct {
	OldPath     string       `json:"old_path"`
	NewPath     string       `json:"new_path"`
	Changes     []Change     `json:"changes"`
	RuleChanges []RuleChange `json:"rule_changes"`
	HasChanges  bool         `json:"has_changes"`
}

// Diff compares two rule sets and returns the differences.
func Diff(old, new *policy.RuleSet) *DiffResult {
	r := &DiffResult{}

	oa, na := old.Audit(), new.Audit()
	if oa.Level != na.Level {
		r.Changes = append(r.Changes, Change{
			Field:   "audit.level",
			Old:     string(oa.Level),
			New:     string(na.Level),
			Comment: levelComment(oa.Level, na.Level),
		})
	}
	diffString(r, "audit.path", oa.Path, na.Path)
	diffString(r, "audit.format", oa.Format, na.Format)
	diffInt(r, "audit.retention_days", oa.RetentionDays, na.RetentionDays)
	diffString(r, "audit.prune_schedule", oa.PruneSchedule, na.PruneSchedule)
	if ob, nb := old.Redactor().Enabled(), new.Redactor().Enabled(); ob != nb {
		c := Change{Field: "audit.redact", Old: strconv.FormatBool(ob), New: strconv.FormatBool(nb), Comment: "secrets recorded in clear"}
		if nb {
			c.Comment = "secrets masked"
		}
		r.Changes = append(r.Changes, c)
	}
	diffInt(r, "alerts", len(old.Alerts()), len(new.Alerts()))

	diffRules(r, old.Rules(), new.Rules())

	r.HasChanges = len(r.Changes) > 0 || len(r.RuleChanges) > 0
	return r
}

// LoadAndDiff compiles both policy files, profiles included, and diffs them.
func LoadAndDiff(oldPath, newPath string) (*DiffResult, error) {
	old, err := gate.LoadRuleSet(oldPath)
	if err != nil {
		return nil, fmt.Errorf("old policy: %w", err)
	}
	new, err := gate.LoadRuleSet(newPath)
	if err != nil {
		return nil, fmt.Errorf("new policy: %w", err)
	}
	r := Diff(old, new)
	r.OldPath = oldPath
	r.NewPath = newPath
	return r, nil
}

var levelRank = map[audit.Level]int{audit.LevelOff: 0, audit.LevelMatched: 1, audit.LevelAll: 2}

func levelComment(old, new audit.Level) string {
	if levelRank[new] > levelRank[old] {
		return "more auditing"
	}
	return "less auditing"
}

func diffString(r *DiffResult, field, old, new string) {
	if old != new {
		r.Changes = append(r.Changes, Change{Field: field, Old: old, New: new})
	}
}

func diffInt(r *DiffResult, field string, old, new int) {
	if old != new {
		r.Changes = append(r.Changes, Change{
			Field: field,
			Old:   fmt.Sprintf("%d", old),
			New:   fmt.Sprintf("%d", new),
		})
	}
}

func (r *DiffResult) addRule(typ string, rule *policy.Rule, label string) {
	r.RuleChanges = append(r.RuleChanges, RuleChange{Type: typ, Effect: rule.Ref.Effect, Rule: label})
}

// Count returns how many rule changes have the given type.
func (r *DiffResult) Count(typ string) int {
	n := 0
	for _, rc := range r.RuleChanges {
		if rc.Type == typ {
			n++
		}
	}
	return n
}

// ruleLabel renders a rule as "deny Bash command~^rm [id]".
func ruleLabel(rule *policy.Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", rule.Ref.Effect, rule.Tool)
	for _, fc := range rule.Fields {
		fmt.Fprintf(&b, " %s~%s", fc.Name, fc.Pattern.Include())
		if ex := fc.Pattern.Exclude(); ex != "" {
			fmt.Fprintf(&b, "!%s", ex)
		}
	}
	fmt.Fprintf(&b, " [%s]", rule.Ref.ID)
	return b.String()
}

type indexed struct {
	rule *policy.Rule
	pos  int
}

func bySignature(rules []*policy.Rule) map[string]indexed {
	m := make(map[string]indexed, len(rules))
	for i, rule := range rules {
		sig := rule.Signature()
		if _, dup := m[sig]; !dup {
			m[sig] = indexed{rule: rule, pos: i}
		}
	}
	return m
}

func diffRules(r *DiffResult, oldRules, newRules []*policy.Rule) {
	oldMap := bySignature(oldRules)
	newMap := bySignature(newRules)

	// Check for added and changed
	var common []string
	for i, rule := range newRules {
		sig := rule.Signature()
		if newMap[sig].pos != i {
			continue
		}
		prev, exists := oldMap[sig]
		if !exists {
			r.addRule("added", rule, ruleLabel(rule))
			continue
		}
		switch {
		case prev.rule.Ref.Effect != rule.Ref.Effect:
			r.addRule("changed", rule, fmt.Sprintf("%s (was: %s)", ruleLabel(rule), prev.rule.Ref.Effect))
		case renamed(prev.rule.Ref, rule.Ref) || prev.rule.Ref.Description != rule.Ref.Description:
			r.addRule("changed", rule, fmt.Sprintf("%s (was: [%s] %q)", ruleLabel(rule), prev.rule.Ref.ID, prev.rule.Ref.Description))
			common = append(common, sig)
		default:
			common = append(common, sig)
		}
	}

	// Check for removed
	for i, rule := range oldRules {
		sig := rule.Signature()
		if oldMap[sig].pos != i {
			continue
		}
		if _, exists := newMap[sig]; !exists {
			r.addRule("removed", rule, ruleLabel(rule))
		}
	}

	diffOrder(r, common, oldMap, newMap)
}

// renamed reports an id change, ignoring positional ids ("allow[2]") that
// shift whenever an earlier rule is added or removed.
func renamed(old, new model.RuleRef) bool {
	if old.ID == new.ID {
		return false
	}
	return !positional(old) || !positional(new)
}

func positional(ref model.RuleRef) bool {
	return ref.ID == fmt.Sprintf("%s[%d]", ref.Effect, ref.Index)
}

// diffOrder reports rules kept in the same class whose first-match rank
// among the kept rules changed. common is ordered by new position.
func diffOrder(r *DiffResult, common []string, oldMap, newMap map[string]indexed) {
	oldRank := make(map[string]int, len(common))
	byOld := append([]string(nil), common...)
	sortByPos(byOld, oldMap)
	for i, sig := range byOld {
		oldRank[sig] = i
	}
	for newRank, sig := range common {
		if oldRank[sig] != newRank {
			rule := newMap[sig].rule
			r.addRule("moved", rule, fmt.Sprintf("%s (position %d → %d)", ruleLabel(rule), oldMap[sig].pos+1, newMap[sig].pos+1))
		}
	}
}

func sortByPos(sigs []string, m map[string]indexed) {
	for i := 1; i < len(sigs); i++ {
		for j := i; j > 0 && m[sigs[j]].pos < m[sigs[j-1]].pos; j-- {
			sigs[j], sigs[j-1] = sigs[j-1], sigs[j]
		}
	}
}
