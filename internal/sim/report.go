package sim

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/model"
)

// DiffEntry is one recorded invocation whose decision changed.
type DiffEntry struct {
	Timestamp   string `json:"ts"`
	SessionID   string `json:"session_id,omitempty"`
	Tool        string `json:"tool"`
	Subject     string `json:"subject,omitempty"`
	OldDecision string `json:"old_decision"`
	NewDecision string `json:"new_decision"`
	OldRule     string `json:"old_rule,omitempty"`
	NewRule     string `json:"new_rule,omitempty"`
	OldReason   string `json:"old_reason,omitempty"`
	NewReason   string `json:"new_reason,omitempty"`
}

// SimResult is the outcome of replaying an audit log against a policy.
type SimResult struct {
	PolicyPath     string      `json:"policy_path"`
	LogPath        string      `json:"log_path"`
	TotalActions   int         `json:"total_actions"`
	Sessions       int         `json:"sessions"`
	ChangedActions int         `json:"changed_actions"`
	NewlyBlocked   int         `json:"newly_blocked"`
	NewlyAllowed   int         `json:"newly_allowed"`
	NewlyUnmatched int         `json:"newly_unmatched"`
	RuleChanged    int         `json:"rule_changed"` // same decision, different rule
	Skipped        int         `json:"skipped"`      // unrecognized recorded decision
	Changes        []DiffEntry `json:"changes"`
}

// add records a changed invocation under its new outcome.
func (r *SimResult) add(e DiffEntry) {
	r.Changes = append(r.Changes, e)
	r.ChangedActions++
	switch model.Outcome(e.NewDecision) {
	case model.Deny:
		r.NewlyBlocked++
	case model.Allow:
		r.NewlyAllowed++
	case model.Passthrough:
		r.NewlyUnmatched++
	}
}

// groups lists change sections in the order they are printed.
var groups = []struct {
	outcome model.Outcome
	title   string
}{
	{model.Deny, "Newly blocked"},
	{model.Allow, "Newly allowed"},
	{model.Passthrough, "Newly unmatched"},
}

// FormatText renders the result with changes grouped by their new outcome,
// blocked first.
func FormatText(r *SimResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Simulating %s against %d recorded invocations (%s)\n",
		r.PolicyPath, r.TotalActions, count(r.Sessions, "session"))

	if len(r.Changes) == 0 {
		b.WriteString("\nNo changes detected.\n")
		writeFootnotes(&b, r)
		return b.String()
	}

	for _, g := range groups {
		var rows []DiffEntry
		for _, e := range r.Changes {
			if model.Outcome(e.NewDecision) == g.outcome {
				rows = append(rows, e)
			}
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d):\n", g.title, len(rows))
		for _, e := range rows {
			writeEntry(&b, e)
		}
	}

	fmt.Fprintf(&b, "\n%d of %d invocations changed: %d newly blocked, %d newly allowed, %d newly unmatched.\n",
		r.ChangedActions, r.TotalActions, r.NewlyBlocked, r.NewlyAllowed, r.NewlyUnmatched)
	writeFootnotes(&b, r)
	return b.String()
}

func writeEntry(b *strings.Builder, e DiffEntry) {
	ts := e.Timestamp
	if t, err := time.Parse(audit.TimestampFormat, ts); err == nil {
		ts = t.Format(time.TimeOnly)
	}
	fmt.Fprintf(b, "  %s  %-12s %-40s %s → %s", ts, e.Tool, shorten(e.Subject, 40), e.OldDecision, e.NewDecision)
	if e.NewRule != "" {
		fmt.Fprintf(b, "  [%s]", e.NewRule)
	}
	b.WriteByte('\n')
}

func writeFootnotes(b *strings.Builder, r *SimResult) {
	if r.RuleChanged > 0 {
		fmt.Fprintf(b, "%s keep their decision under a different rule.\n", count(r.RuleChanged, "invocation"))
	}
	if r.Skipped > 0 {
		fmt.Fprintf(b, "%s skipped (unrecognized decision).\n", count(r.Skipped, "record"))
	}
}

func count(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// FormatJSON renders the result as indented JSON.
func FormatJSON(r *SimResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sim result: %w", err)
	}
	return string(data), nil
}
