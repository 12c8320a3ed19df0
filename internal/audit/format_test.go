package audit

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFormatTimelineHeaderAndSummary(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{SessionID: "s-aaa"})
	if err != nil {
		t.Fatal(err)
	}

	out := FormatTimeline(result)

	if !strings.Contains(out, "Session: s-aaa") {
		t.Error("expected header to contain session ID")
	}
	if !strings.Contains(out, "2025-01-15 14:00:00") {
		t.Errorf("expected date range in header, got:\n%s", out)
	}
	if !strings.Contains(out, "3 allow, 1 deny, 1 passthrough") {
		t.Errorf("expected counts in summary, got:\n%s", out)
	}
	if !strings.Contains(out, "Top rule: read-home (3)") {
		t.Errorf("expected top rule in summary, got:\n%s", out)
	}
}

func TestFormatTimelineEntryColumns(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{SessionID: "s-aaa"})
	if err != nil {
		t.Fatal(err)
	}

	out := FormatTimeline(result)

	for _, want := range []string{"DENY", "ALLOW", "PASSTHROUGH", "rm-root", "rm -rf /", "https://example.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in timeline, got:\n%s", want, out)
		}
	}
}

func TestFormatLineFlattensNewlines(t *testing.T) {
	line := FormatLine(Record{Timestamp: "2025-01-15T14:00:00.000Z", Tool: "Bash", Decision: "deny",
		Fields: map[string]string{"command": "echo a\necho b"}})
	if strings.Count(line, "\n") != 1 {
		t.Errorf("expected single-line output, got %q", line)
	}
	if !strings.Contains(line, " - ") {
		t.Errorf("expected '-' placeholder for missing rule, got %q", line)
	}
}

func TestFormatJSONValid(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{SessionID: "s-aaa"})
	if err != nil {
		t.Fatal(err)
	}

	jsonStr, err := FormatJSON(result)
	if err != nil {
		t.Fatal(err)
	}

	var parsed ReplayResult
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		t.Fatalf("JSON output not valid: %v", err)
	}
	if parsed.SessionID != "s-aaa" {
		t.Errorf("expected session s-aaa, got %s", parsed.SessionID)
	}
	if len(parsed.Records) != 5 {
		t.Errorf("expected 5 records in JSON, got %d", len(parsed.Records))
	}
	if parsed.Summary.Total != 5 {
		t.Errorf("expected total 5 in JSON summary, got %d", parsed.Summary.Total)
	}
}

func TestFormatTimelineEmptyRecords(t *testing.T) {
	out := FormatTimeline(&ReplayResult{SessionID: "s-empty"})
	if !strings.Contains(out, "No records found") {
		t.Errorf("expected 'No records found' message, got:\n%s", out)
	}
}

func TestFormatTimelineMarksSessionChanges(t *testing.T) {
	result, err := Replay(writeTestLog(t), ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	out := FormatTimeline(result)
	if !strings.HasPrefix(out, "Session: all sessions | 2025-01-15 14:00:00–14:00:10 UTC (10s)") {
		t.Errorf("unexpected header:\n%s", out)
	}
	// s-aaa → s-bbb → s-aaa
	if n := strings.Count(out, "── session"); n != 2 {
		t.Errorf("expected 2 session markers, got %d:\n%s", n, out)
	}
	if !strings.Contains(out, "Top rule: read-home (3), ls (1), rm-root (1)") {
		t.Errorf("expected ranked rules, got:\n%s", out)
	}
}

func TestClipKeepsRunesWhole(t *testing.T) {
	got := clip("путь/к/файлу", 6)
	if got != "путь/…" {
		t.Errorf("got %q", got)
	}
	if clip("short", 12) != "short" {
		t.Error("short strings should pass through")
	}
}

func TestSpanAcrossDays(t *testing.T) {
	got := span("2025-01-15T23:59:00.000Z", "2025-01-16T00:01:00.000Z")
	if got != "2025-01-15 23:59:00–2025-01-16 00:01:00 UTC (2m0s)" {
		t.Errorf("got %q", got)
	}
	if got := span("bad", "worse"); got != "bad–worse" {
		t.Errorf("unparsed span: %q", got)
	}
}
