package hook

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ppiankov/toolgate/internal/model"
)

func TestReadRequest(t *testing.T) {
	in := `{"session_id":"s1","transcript_path":"/tmp/t.jsonl","cwd":"/work","hook_event_name":"PreToolUse",
		"tool_name":"Bash","tool_input":{"command":"rm -rf /","description":"cleanup"}}`
	req, err := ReadRequest(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if req.ToolName != "Bash" || req.SessionID != "s1" || req.Cwd != "/work" {
		t.Errorf("unexpected request: %+v", req)
	}

	inv := req.Invocation()
	if inv.Fields["command"] != "rm -rf /" || inv.Fields["description"] != "cleanup" {
		t.Errorf("unexpected fields: %v", inv.Fields)
	}
	if inv.SessionID != "s1" || inv.Cwd != "/work" {
		t.Errorf("session context not carried: %+v", inv)
	}
}

func TestReadRequestErrors(t *testing.T) {
	if _, err := ReadRequest(strings.NewReader("not json")); !errors.Is(err, ErrMalformedRequest) {
		t.Errorf("expected ErrMalformedRequest, got %v", err)
	}
	if _, err := ReadRequest(strings.NewReader(`{"tool_input":{}}`)); !errors.Is(err, ErrMissingToolName) {
		t.Errorf("expected ErrMissingToolName, got %v", err)
	}
	if _, err := ReadRequest(strings.NewReader(`{"tool_name":"  "}`)); !errors.Is(err, ErrMissingToolName) {
		t.Errorf("expected ErrMissingToolName for blank name, got %v", err)
	}
}

func TestRequestWithoutInput(t *testing.T) {
	req, err := ParseRequest([]byte(`{"tool_name":"Read"}`))
	if err != nil {
		t.Fatal(err)
	}
	if inv := req.Invocation(); len(inv.Fields) != 0 {
		t.Errorf("expected no fields, got %v", inv.Fields)
	}
	if req.Event() != EventPreToolUse {
		t.Errorf("expected default event PreToolUse, got %s", req.Event())
	}
}

func TestWriteDecisionPreToolUse(t *testing.T) {
	d := model.Denied("Bash", model.RuleRef{ID: "rm-rf", Effect: model.EffectDeny, Description: "no rm"})

	var buf bytes.Buffer
	if err := WriteDecision(&buf, EventPreToolUse, d); err != nil {
		t.Fatal(err)
	}

	var got map[string]map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	out := got["hookSpecificOutput"]
	if out["hookEventName"] != "PreToolUse" || out["permissionDecision"] != "deny" {
		t.Errorf("unexpected output: %v", out)
	}
	reason, _ := out["permissionDecisionReason"].(string)
	if !strings.Contains(reason, "rm-rf") || !strings.Contains(reason, "no rm") {
		t.Errorf("reason should name the rule, got %q", reason)
	}
	if _, ok := out["decision"]; ok {
		t.Error("PreToolUse output must not carry a decision object")
	}
}

func TestWriteDecisionPermissionRequest(t *testing.T) {
	d := model.Allowed("Read", model.RuleRef{ID: "allow[0]", Effect: model.EffectAllow})

	var buf bytes.Buffer
	if err := WriteDecision(&buf, EventPermissionRequest, d); err != nil {
		t.Fatal(err)
	}

	var got Output
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.HookSpecificOutput.HookEventName != "PermissionRequest" {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.HookSpecificOutput.Decision == nil || got.HookSpecificOutput.Decision.Behavior != "allow" {
		t.Errorf("expected allow behavior, got %+v", got.HookSpecificOutput.Decision)
	}
	if got.HookSpecificOutput.PermissionDecision != "" {
		t.Error("PermissionRequest output must not carry permissionDecision")
	}
}

func TestWriteDecisionPassthroughIsSilent(t *testing.T) {
	for _, event := range []string{EventPreToolUse, EventPermissionRequest} {
		var buf bytes.Buffer
		if err := WriteDecision(&buf, event, model.NoMatch()); err != nil {
			t.Fatal(err)
		}
		if buf.Len() != 0 {
			t.Errorf("%s: passthrough must write nothing, got %q", event, buf.String())
		}
	}
}

func TestReason(t *testing.T) {
	if r := Reason(model.NoMatch()); r != "" {
		t.Errorf("passthrough has no reason, got %q", r)
	}
	d := model.Decision{Outcome: model.Deny, Rule: &model.RuleRef{ID: "x"}}
	if r := Reason(d); !strings.Contains(r, "x") {
		t.Errorf("expected rule id in fallback reason, got %q", r)
	}
}
