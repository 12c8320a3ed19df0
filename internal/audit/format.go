package audit

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/toolgate/internal/extract"
)

const timelineRule = "──────────────────────────────────────────────────────────────────"

// topRules caps how many rules the timeline summary names.
const topRules = 3

// FormatTimeline renders a replay as text: a header with the covered span,
// one row per record, and a decision summary. Without a session filter, a
// marker line separates records from different sessions.
func FormatTimeline(result *ReplayResult) string {
	label := result.SessionID
	if label == "" {
		label = "all sessions"
	}
	if len(result.Records) == 0 {
		return fmt.Sprintf("Session: %s | No records found.\n", label)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s | %s\n", label, span(result.Summary.FirstTimestamp, result.Summary.LastTimestamp))
	b.WriteString(timelineRule + "\n")

	session := result.Records[0].SessionID
	for _, r := range result.Records {
		if result.SessionID == "" && r.SessionID != session {
			session = r.SessionID
			fmt.Fprintf(&b, "  ── session %s\n", orDash(session))
		}
		b.WriteString(FormatLine(r))
	}

	b.WriteString(timelineRule + "\n")
	b.WriteString(summaryLine(result.Summary))
	return b.String()
}

// FormatLine renders one record as a fixed-width row: time, decision, tool,
// rule id and the record's most telling field.
func FormatLine(r Record) string {
	return fmt.Sprintf("%-10s %-12s %-13s %-24s %s\n",
		clock(r.Timestamp),
		strings.ToUpper(r.Decision),
		clip(r.Tool, 12),
		clip(orDash(r.RuleID), 24),
		clip(extract.Subject(r.Fields), 48))
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

// span renders "2025-01-15 14:00:00–14:05:30 UTC (5m30s)", falling back to
// the raw strings when either end does not parse.
func span(first, last string) string {
	from, err1 := time.Parse(TimestampFormat, first)
	to, err2 := time.Parse(TimestampFormat, last)
	if err1 != nil || err2 != nil {
		return first + "–" + last
	}
	end := to.Format("15:04:05")
	if from.YearDay() != to.YearDay() || from.Year() != to.Year() {
		end = to.Format(time.DateTime)
	}
	return fmt.Sprintf("%s–%s UTC (%s)", from.Format(time.DateTime), end, to.Sub(from).Round(time.Second))
}

func clock(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(time.TimeOnly)
}

func summaryLine(s ReplaySummary) string {
	var parts []string
	for _, c := range []struct {
		n    int
		name string
	}{{s.AllowCount, "allow"}, {s.DenyCount, "deny"}, {s.PassthroughCount, "passthrough"}} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.name))
		}
	}

	line := "Summary: " + strings.Join(parts, ", ")
	if top := rankRules(s.Rules); len(top) > 0 {
		named := make([]string, len(top))
		for i, id := range top {
			named[i] = fmt.Sprintf("%s (%d)", id, s.Rules[id])
		}
		line += " | Top rule: " + strings.Join(named, ", ")
	}
	return line + "\n"
}

// rankRules orders rule ids by hit count, ties by id, and keeps topRules.
func rankRules(hits map[string]int) []string {
	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(hits[b], hits[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return ids[:min(len(ids), topRules)]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// clip shortens s to at most n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
