package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/toolgate/internal/model"
)

var changeMarks = map[string]string{
	"added":   "+",
	"removed": "-",
	"changed": "~",
	"moved":   "↕",
}

// FormatText renders r for a terminal: audit settings, other scalar
// changes, then rule changes grouped by effect class.
func FormatText(r *DiffResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Policy diff: %s → %s\n", r.OldPath, r.NewPath)
	if !r.HasChanges {
		b.WriteString("\nNo changes detected.\n")
		return b.String()
	}

	var audit, other []Change
	for _, c := range r.Changes {
		if strings.HasPrefix(c.Field, "audit.") {
			audit = append(audit, c)
		} else {
			other = append(other, c)
		}
	}

	if len(audit) > 0 {
		b.WriteString("\n  Audit:\n")
		for _, c := range audit {
			writeChange(&b, "    ", strings.TrimPrefix(c.Field, "audit."), c)
		}
	}
	if len(other) > 0 {
		b.WriteString("\n")
		for _, c := range other {
			writeChange(&b, "  ", c.Field, c)
		}
	}

	for _, class := range []model.Effect{model.EffectDeny, model.EffectAllow} {
		var lines []string
		for _, rc := range r.RuleChanges {
			if rc.Effect == class {
				lines = append(lines, fmt.Sprintf("    %s %s\n", changeMarks[rc.Type], rc.Rule))
			}
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n  %s rules:\n", strings.ToUpper(string(class[:1]))+string(class[1:]))
		for _, l := range lines {
			b.WriteString(l)
		}
	}

	if len(r.RuleChanges) > 0 {
		fmt.Fprintf(&b, "\n%d added, %d removed, %d changed, %d moved.\n",
			r.Count("added"), r.Count("removed"), r.Count("changed"), r.Count("moved"))
	}
	return b.String()
}

func writeChange(b *strings.Builder, indent, name string, c Change) {
	fmt.Fprintf(b, "%s%-18s %s → %s", indent, name+":", orNone(c.Old), orNone(c.New))
	if c.Comment != "" {
		fmt.Fprintf(b, "  (%s)", c.Comment)
	}
	b.WriteString("\n")
}

// FormatJSON renders r as indented JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
