package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/hook"
)

func TestRunHookDeny(t *testing.T) {
	dir := isolate(t)
	policy := writeFile(t, dir, "policy.yaml", testPolicy)

	out, err := execute(t, preToolUse("Bash", `{"command":"rm -rf /tmp/x"}`), "run", "--policy", policy)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var o hook.Output
	if err := json.Unmarshal([]byte(out), &o); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	if o.HookSpecificOutput.PermissionDecision != "deny" {
		t.Errorf("expected deny, got %+v", o)
	}
	if !strings.Contains(o.HookSpecificOutput.PermissionDecisionReason, "no-rm") {
		t.Errorf("reason should name the rule: %q", o.HookSpecificOutput.PermissionDecisionReason)
	}
}

func TestRunHookDeniesWhenAuditPathUnwritable(t *testing.T) {
	dir := isolate(t)
	blocker := writeFile(t, dir, "blocker", "")
	policy := writeFile(t, dir, "policy.yaml",
		"audit:\n  level: all\n  path: "+blocker+"/audit.jsonl\n"+testPolicy)

	out, err := execute(t, preToolUse("Bash", `{"command":"rm -rf /tmp/x"}`), "run", "--policy", policy)
	if err != nil {
		t.Fatalf("audit failure must not fail the hook: %v", err)
	}
	var o hook.Output
	if err := json.Unmarshal([]byte(out), &o); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	if o.HookSpecificOutput.PermissionDecision != "deny" {
		t.Errorf("expected deny despite the broken audit sink, got %+v", o)
	}
}

func TestRunHookPassthroughWritesNothing(t *testing.T) {
	dir := isolate(t)
	policy := writeFile(t, dir, "policy.yaml", testPolicy)

	out, err := execute(t, preToolUse("Bash", `{"command":"make"}`), "run", "--policy", policy)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "" {
		t.Errorf("passthrough must write nothing, got %q", out)
	}
}

func TestRunHookPermissionRequest(t *testing.T) {
	dir := isolate(t)
	policy := writeFile(t, dir, "policy.yaml", testPolicy)

	in := `{"hook_event_name":"PermissionRequest","tool_name":"Read","tool_input":{"file_path":"/etc/hosts"}}`
	out, err := execute(t, in, "run", "--policy", policy)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, `"behavior":"allow"`) || !strings.Contains(out, `"PermissionRequest"`) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRunHookErrors(t *testing.T) {
	dir := isolate(t)
	good := writeFile(t, dir, "policy.yaml", testPolicy)
	bad := writeFile(t, dir, "bad.yaml", "deny:\n  - tool: Bash\n    command_regex: \"(\"\n")

	cases := []struct {
		name   string
		stdin  string
		policy string
	}{
		{"malformed request", "{not json", good},
		{"missing tool name", `{"tool_input":{}}`, good},
		{"invalid policy", preToolUse("Bash", `{"command":"ls"}`), bad},
		{"missing policy", preToolUse("Bash", `{"command":"ls"}`), dir + "/nope.yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := execute(t, tc.stdin, "run", "--policy", tc.policy)
			if err == nil {
				t.Fatal("expected error")
			}
			if out != "" {
				t.Errorf("no decision may be written on error, got %q", out)
			}
		})
	}
}

func TestRunHookPolicyFromEnvironment(t *testing.T) {
	dir := isolate(t)
	t.Setenv("TOOLGATE_POLICY", writeFile(t, dir, "policy.yaml", testPolicy))

	out, err := execute(t, preToolUse("Bash", `{"command":"git status"}`), "run")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, `"permissionDecision":"allow"`) {
		t.Errorf("expected allow from env policy, got %q", out)
	}
}

func TestRunHookAuditsAndVerifies(t *testing.T) {
	dir := isolate(t)
	logPath := dir + "/audit.jsonl"
	policy := writeFile(t, dir, "policy.yaml", "audit:\n  level: all\n  path: "+logPath+"\n"+testPolicy)

	for _, cmd := range []string{"rm -rf /", "make", "git status"} {
		input, _ := json.Marshal(map[string]string{"command": cmd})
		if _, err := execute(t, preToolUse("Bash", string(input)), "run", "--policy", policy); err != nil {
			t.Fatalf("run %q: %v", cmd, err)
		}
	}

	if v := audit.Verify(logPath); !v.Valid || v.Lines != 3 {
		t.Fatalf("expected 3 chained records, got %+v", v)
	}

	out, err := execute(t, "", "audit", "verify", "--policy", policy)
	if err != nil || !strings.Contains(out, "OK: 3 entries verified") {
		t.Errorf("audit verify: %q, %v", out, err)
	}
	if !strings.Contains(out, "deny: 1  allow: 1  passthrough: 1") || !strings.Contains(out, "policy versions: 1") {
		t.Errorf("verify summary missing: %q", out)
	}

	out, err = execute(t, "", "audit", "replay", "--policy", policy, "--decision", "deny", "--format", "json")
	if err != nil {
		t.Fatalf("audit replay: %v", err)
	}
	var result audit.ReplayResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("replay JSON: %v\n%s", err, out)
	}
	if len(result.Records) != 1 || result.Records[0].RuleID != "no-rm" {
		t.Errorf("unexpected replay: %+v", result.Records)
	}

	out, err = execute(t, "", "audit", "tail", logPath, "-n", "2")
	if err != nil {
		t.Fatalf("audit tail: %v", err)
	}
	if strings.Count(out, "\n") != 2 || !strings.Contains(out, "git status") {
		t.Errorf("unexpected tail output:\n%s", out)
	}
}

func TestRunHookServerUnreachableFailsClosed(t *testing.T) {
	isolate(t)

	out, err := execute(t, preToolUse("Read", `{"file_path":"/etc/hosts"}`),
		"run", "--server", "127.0.0.1:1", "--timeout", "300ms")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, `"permissionDecision":"deny"`) || !strings.Contains(out, "unreachable") {
		t.Errorf("expected fail-closed deny, got %q", out)
	}
}
