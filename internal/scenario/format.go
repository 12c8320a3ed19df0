package scenario

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders run results for a terminal: one PASS/FAIL/ERROR line
// per scenario file, the failing cases under it, and a closing tally.
func FormatText(results []*RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Checking %d scenario file%s...\n\n", len(results), plural(len(results)))

	cases, passed, broken := 0, 0, 0
	for _, r := range results {
		cases += r.Total
		passed += r.Passed
		switch {
		case r.Error != "":
			broken++
			fmt.Fprintf(&b, "  ERROR %s: %s\n", r.Name, r.Error)
		case r.Failed > 0:
			broken++
			fmt.Fprintf(&b, "  FAIL  %s (%d/%d)\n", r.Name, r.Passed, r.Total)
			writeFailures(&b, r.Cases)
		default:
			fmt.Fprintf(&b, "  PASS  %s (%d/%d)\n", r.Name, r.Passed, r.Total)
		}
	}

	fmt.Fprintf(&b, "\n%d of %d cases passed.", passed, cases)
	if broken > 0 {
		fmt.Fprintf(&b, " %d of %d scenarios failed.", broken, len(results))
	}
	b.WriteString("\n")
	return b.String()
}

const subjectWidth = 40

func writeFailures(b *strings.Builder, cases []CaseResult) {
	for _, c := range cases {
		if c.Passed {
			continue
		}
		label := fmt.Sprintf("case %d", c.Index)
		if c.Name != "" {
			label += " (" + c.Name + ")"
		}
		if c.Error != "" {
			fmt.Fprintf(b, "    FAIL  %s: %s\n", label, c.Error)
			continue
		}
		subject := c.Subject
		if len(subject) > subjectWidth {
			subject = subject[:subjectWidth-3] + "..."
		}
		fmt.Fprintf(b, "    FAIL  %s: %-12s %-*s expected %s, got %s\n",
			label, c.Tool, subjectWidth, subject,
			describe(c.Expected, c.ExpectedRule), describe(c.Actual, c.ActualRule))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// FormatJSON renders run results as JSON.
func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}

func describe(outcome, rule string) string {
	if rule == "" {
		return outcome
	}
	return outcome + " (" + rule + ")"
}
