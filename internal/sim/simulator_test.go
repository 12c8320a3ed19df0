package sim

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/toolgate/internal/audit"
)

// writeAuditLog writes records as JSONL to a temp file.
func writeAuditLog(t *testing.T, records []audit.Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

// writePolicy writes YAML to a temp file.
func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func rec(session, tool, decision, ruleID string, fields map[string]string) audit.Record {
	return audit.Record{
		Timestamp:     "2025-01-15T14:00:12.000Z",
		SessionID:     session,
		Tool:          tool,
		Decision:      decision,
		RuleID:        ruleID,
		Fields:        fields,
		SchemaVersion: 1,
	}
}

func cmd(c string) map[string]string { return map[string]string{"command": c} }

const basePolicy = `
deny:
  - id: no-rm
    tool: Bash
    command_regex: "^rm "
allow:
  - id: git-read
    tool: Bash
    command_regex: "^git (status|log)"
`

func baseLog(t *testing.T) string {
	return writeAuditLog(t, []audit.Record{
		rec("s-1", "Bash", "deny", "no-rm", cmd("rm -rf build")),
		rec("s-1", "Bash", "allow", "git-read", cmd("git status")),
		rec("s-2", "Bash", "passthrough", "", cmd("curl https://example.com")),
		rec("s-2", "Read", "passthrough", "", map[string]string{"file_path": "/etc/hosts"}),
	})
}

func TestIdenticalPolicyZeroChanges(t *testing.T) {
	r, err := SimulateFile(baseLog(t), writePolicy(t, basePolicy), audit.ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalActions != 4 || r.Sessions != 2 {
		t.Errorf("expected 4 invocations in 2 sessions, got %d in %d", r.TotalActions, r.Sessions)
	}
	if r.ChangedActions != 0 || len(r.Changes) != 0 {
		t.Errorf("expected no changes, got %+v", r.Changes)
	}
}

func TestStricterPolicyNewlyBlocked(t *testing.T) {
	policy := basePolicy + `
rules:
  - id: no-curl
    effect: deny
    tool: Bash
    command_regex: "^curl "
`
	r, err := SimulateFile(baseLog(t), writePolicy(t, policy), audit.ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if r.ChangedActions != 1 || r.NewlyBlocked != 1 {
		t.Fatalf("expected one newly blocked invocation, got %+v", r)
	}
	d := r.Changes[0]
	if d.OldDecision != "passthrough" || d.NewDecision != "deny" || d.NewRule != "no-curl" {
		t.Errorf("unexpected change: %+v", d)
	}
	if d.Subject != "curl https://example.com" || d.SessionID != "s-2" {
		t.Errorf("entry fields not populated: %+v", d)
	}
}

func TestLooserPolicyNewlyAllowedAndUnmatched(t *testing.T) {
	policy := `
allow:
  - id: git-read
    tool: Bash
    command_regex: "^git (status|log)"
  - id: read-anything
    tool: Read
`
	r, err := SimulateFile(baseLog(t), writePolicy(t, policy), audit.ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if r.ChangedActions != 2 {
		t.Fatalf("expected 2 changes, got %+v", r.Changes)
	}
	if r.NewlyAllowed != 1 || r.NewlyUnmatched != 1 || r.NewlyBlocked != 0 {
		t.Errorf("unexpected counts: allowed=%d unmatched=%d blocked=%d",
			r.NewlyAllowed, r.NewlyUnmatched, r.NewlyBlocked)
	}
}

func TestRuleChangeWithoutDecisionChange(t *testing.T) {
	policy := strings.Replace(basePolicy, "id: no-rm", "id: never-rm", 1)
	r, err := SimulateFile(baseLog(t), writePolicy(t, policy), audit.ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if r.ChangedActions != 0 || r.RuleChanged != 1 {
		t.Errorf("expected one rule change and no decision change, got %+v", r)
	}
	if !strings.Contains(FormatText(r), "different rule") {
		t.Errorf("footnote missing:\n%s", FormatText(r))
	}
}

func TestFilterLimitsReplay(t *testing.T) {
	r, err := SimulateFile(baseLog(t), writePolicy(t, "{}"), audit.ReplayFilter{SessionID: "s-1"})
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalActions != 2 || r.ChangedActions != 2 {
		t.Errorf("expected both s-1 invocations to change, got %+v", r)
	}
}

func TestUnknownDecisionSkipped(t *testing.T) {
	log := writeAuditLog(t, []audit.Record{rec("s", "Bash", "require_approval", "", cmd("ls"))})
	r, err := SimulateFile(log, writePolicy(t, basePolicy), audit.ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Skipped != 1 || r.ChangedActions != 0 {
		t.Errorf("expected skipped record, got %+v", r)
	}
}

func TestEmptyAuditLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	r, err := SimulateFile(path, writePolicy(t, basePolicy), audit.ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalActions != 0 {
		t.Errorf("expected 0 invocations, got %d", r.TotalActions)
	}
	if !strings.Contains(FormatText(r), "No changes detected.") {
		t.Error("expected no-change text")
	}
}

func TestInvalidPolicyReturnsError(t *testing.T) {
	bad := writePolicy(t, "deny:\n  - tool: Bash\n    command_regex: \"(\"\n")
	if _, err := SimulateFile(baseLog(t), bad, audit.ReplayFilter{}); err == nil {
		t.Error("expected error for invalid policy")
	}
}

func TestMissingLogReturnsError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.jsonl")
	if _, err := SimulateFile(missing, writePolicy(t, basePolicy), audit.ReplayFilter{}); err == nil {
		t.Error("expected error for missing log")
	}
}

func TestFormatText(t *testing.T) {
	r := &SimResult{
		PolicyPath:     "new.yaml",
		TotalActions:   3,
		Sessions:       1,
		ChangedActions: 1,
		NewlyBlocked:   1,
		Changes: []DiffEntry{{
			Timestamp:   "2025-01-15T14:00:12.000Z",
			Tool:        "Bash",
			Subject:     "curl https://example.com",
			OldDecision: "passthrough",
			NewDecision: "deny",
			NewRule:     "no-curl",
		}},
	}
	out := FormatText(r)
	for _, want := range []string{"(1 session)", "Newly blocked (1):", "  14:00:12  Bash", "passthrough → deny", "[no-curl]", "1 of 3 invocations changed: 1 newly blocked, 0 newly allowed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if strings.Contains(out, "Newly allowed") {
		t.Errorf("empty group printed:\n%s", out)
	}

	js, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(js, `"newly_blocked": 1`) {
		t.Errorf("unexpected JSON: %s", js)
	}
}
