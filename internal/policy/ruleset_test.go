package policy

import (
	"strings"
	"sync"
	"testing"

	"github.com/ppiankov/toolgate/internal/model"
)

func TestScenarioDenyBeforeAllow(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - tool: Bash
    command_regex: "^rm .*-rf"
allow:
  - tool: Bash
    command_regex: "^cargo "
`)
	if d := rs.Evaluate(bash("rm -rf /tmp")); d.Outcome != model.Deny || d.RuleID() != "deny[0]" {
		t.Errorf("rm -rf /tmp: got %+v", d)
	}
	if d := rs.Evaluate(bash("cargo build")); d.Outcome != model.Allow || d.RuleID() != "allow[0]" {
		t.Errorf("cargo build: got %+v", d)
	}
}

func TestScenarioExcludeBlocksTraversal(t *testing.T) {
	rs := mustCompileYAML(t, `
allow:
  - tool: Read
    file_path_regex: "^/home/.*"
    file_path_exclude_regex: "\\.\\."
`)
	if d := rs.Evaluate(read("/home/user/../etc/passwd")); d.Outcome != model.Passthrough {
		t.Errorf("traversal should pass through, got %+v", d)
	}
	if d := rs.Evaluate(read("/home/user/notes.md")); d.Outcome != model.Allow {
		t.Errorf("plain home read should be allowed, got %+v", d)
	}
}

func TestScenarioUnreferencedToolPassesThrough(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - tool: Bash
allow:
  - tool: Read
`)
	inv := model.Invocation{ToolName: "Grep", Fields: map[string]string{"pattern": "TODO", "path": "."}}
	if d := rs.Evaluate(inv); d.Outcome != model.Passthrough || d.Rule != nil {
		t.Errorf("Grep should pass through, got %+v", d)
	}
}

func TestScenarioLiteralSubagent(t *testing.T) {
	rs := mustCompileYAML(t, `
allow:
  - tool: Task
    subagent_type: codebase-analyzer
`)
	task := func(kind string) model.Invocation {
		return model.Invocation{ToolName: "Task", Fields: map[string]string{"subagent_type": kind}}
	}
	if d := rs.Evaluate(task("codebase-analyzer")); d.Outcome != model.Allow {
		t.Errorf("expected allow, got %+v", d)
	}
	if d := rs.Evaluate(task("other")); d.Outcome != model.Passthrough {
		t.Errorf("expected passthrough, got %+v", d)
	}
	if d := rs.Evaluate(task("codebase-analyzer-2")); d.Outcome != model.Passthrough {
		t.Errorf("literal must be exact, got %+v", d)
	}
}

func TestDenyPrecedenceIgnoresDeclarationOrder(t *testing.T) {
	// rules: lets an allow be written before a deny; deny still wins.
	rs := mustCompileYAML(t, `
rules:
  - effect: allow
    tool: Bash
  - effect: deny
    tool: Bash
    command_regex: "sudo"
`)
	if d := rs.Evaluate(bash("sudo reboot")); d.Outcome != model.Deny {
		t.Errorf("deny must win over earlier allow, got %+v", d)
	}
	if d := rs.Evaluate(bash("ls")); d.Outcome != model.Allow {
		t.Errorf("expected blanket allow, got %+v", d)
	}
}

func TestFirstMatchWithinClass(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - id: specific
    tool: Bash
    command_regex: "^rm -rf /$"
  - id: general
    tool: Bash
    command_regex: "^rm"
allow:
  - id: first-allow
    tool: Read
    file_path_regex: "^/"
  - id: second-allow
    tool: Read
    file_path_regex: "^/home"
`)
	if got := rs.Evaluate(bash("rm -rf /")).RuleID(); got != "specific" {
		t.Errorf("expected specific, got %s", got)
	}
	if got := rs.Evaluate(bash("rm x")).RuleID(); got != "general" {
		t.Errorf("expected general, got %s", got)
	}
	if got := rs.Evaluate(read("/home/a")).RuleID(); got != "first-allow" {
		t.Errorf("expected first-allow, got %s", got)
	}
}

func TestBlanketRuleMatchesAnyFields(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - tool: WebFetch
`)
	cases := []model.Invocation{
		{ToolName: "WebFetch"},
		{ToolName: "WebFetch", Fields: map[string]string{}},
		{ToolName: "WebFetch", Fields: map[string]string{"url": "https://example.com", "prompt": "x"}},
	}
	for _, inv := range cases {
		if d := rs.Evaluate(inv); d.Outcome != model.Deny {
			t.Errorf("blanket deny should match %+v, got %+v", inv.Fields, d)
		}
	}
	if d := rs.Evaluate(model.Invocation{ToolName: "webfetch"}); d.Outcome != model.Passthrough {
		t.Errorf("tool match must be exact, got %+v", d)
	}
}

func TestAbsentFieldNeverMatches(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - tool: Bash
    command_regex: ".*"
`)
	if d := rs.Evaluate(model.Invocation{ToolName: "Bash", Fields: map[string]string{"description": "d"}}); d.Outcome != model.Passthrough {
		t.Errorf("missing command must not match even .*, got %+v", d)
	}
	if d := rs.Evaluate(bash("")); d.Outcome != model.Deny {
		t.Errorf("present empty command should match .*, got %+v", d)
	}
}

func TestUnknownToolOnlyMatchesBlanketRules(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - tool: mcp__github__delete_repo
`)
	inv := model.Invocation{ToolName: "mcp__github__delete_repo", Fields: map[string]string{}}
	if d := rs.Evaluate(inv); d.Outcome != model.Deny {
		t.Errorf("expected deny for unknown tool blanket rule, got %+v", d)
	}
}

func TestEvaluateIsIdempotentAndConcurrent(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - tool: Bash
    command_regex: "rm"
allow:
  - tool: Bash
`)
	invs := []model.Invocation{bash("rm -rf /"), bash("ls"), read("/x")}
	want := make([]model.Decision, len(invs))
	for i, inv := range invs {
		want[i] = rs.Evaluate(inv)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				for i, inv := range invs {
					got := rs.Evaluate(inv)
					if got.Outcome != want[i].Outcome || got.RuleID() != want[i].RuleID() || got.Reason != want[i].Reason {
						t.Errorf("non-deterministic decision for %v: %+v vs %+v", inv, got, want[i])
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestDecisionReasonNamesToolAndRule(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - id: no-force-push
    tool: Bash
    command_regex: "git push .*--force"
    description: force push rewrites shared history
`)
	d := rs.Evaluate(bash("git push origin main --force"))
	for _, want := range []string{"Bash", "no-force-push", "force push rewrites shared history"} {
		if !strings.Contains(d.Reason, want) {
			t.Errorf("reason %q should mention %q", d.Reason, want)
		}
	}
	if d.Rule.Effect != model.EffectDeny || d.Rule.Index != 0 {
		t.Errorf("unexpected rule ref %+v", d.Rule)
	}
}

func TestNilAndEmptyRuleSet(t *testing.T) {
	var rs *RuleSet
	if d := rs.Evaluate(bash("rm -rf /")); d.Outcome != model.Passthrough {
		t.Errorf("nil rule set should pass through, got %+v", d)
	}
	e := Empty()
	if d := e.Evaluate(bash("rm -rf /")); d.Outcome != model.Passthrough {
		t.Errorf("empty rule set should pass through, got %+v", d)
	}
	if e.Len() != 0 || e.Audit().Level != "off" {
		t.Errorf("unexpected empty set: %d rules, audit %q", e.Len(), e.Audit().Level)
	}
}

func TestExplain(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - id: rm
    tool: Bash
    command_regex: "^rm"
  - id: read-etc
    tool: Read
    file_path_regex: "^/etc"
allow:
  - id: any-bash
    tool: Bash
  - id: ls
    tool: Bash
    command: ls
`)
	exp := rs.Explain(bash("ls"))
	if exp.Decision.RuleID() != "any-bash" {
		t.Fatalf("expected any-bash, got %+v", exp.Decision)
	}
	if len(exp.Traces) != 4 {
		t.Fatalf("expected 4 traces, got %d", len(exp.Traces))
	}

	byID := map[string]Trace{}
	for _, tr := range exp.Traces {
		byID[tr.Rule.ID] = tr
	}
	if tr := byID["rm"]; tr.Matched || !strings.Contains(tr.Detail, "does not match") {
		t.Errorf("rm trace: %+v", tr)
	}
	if tr := byID["read-etc"]; tr.Matched || !strings.Contains(tr.Detail, "tool is Bash") {
		t.Errorf("read-etc trace: %+v", tr)
	}
	if tr := byID["any-bash"]; !tr.Matched || tr.Detail != "decides" || tr.Skipped {
		t.Errorf("any-bash trace: %+v", tr)
	}
	if tr := byID["ls"]; !tr.Matched || !tr.Skipped {
		t.Errorf("ls should match but be skipped: %+v", tr)
	}
}

func TestExplainExcludedAndAbsent(t *testing.T) {
	rs := mustCompileYAML(t, `
allow:
  - id: home
    tool: Read
    file_path_regex: "^/home/"
    file_path_exclude_regex: "\\.\\."
`)
	if tr := rs.Explain(read("/home/../etc")).Traces[0]; !strings.Contains(tr.Detail, "excluded by") {
		t.Errorf("expected exclusion detail, got %+v", tr)
	}
	if tr := rs.Explain(model.Invocation{ToolName: "Read"}).Traces[0]; tr.Detail != "field file_path absent" {
		t.Errorf("expected absent detail, got %+v", tr)
	}
}

func TestShadowed(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - id: d-rm
    tool: Bash
    command_regex: "^rm"
  - id: d-rm-again
    tool: Bash
    command_regex: "^rm"
allow:
  - id: a-rm
    tool: Bash
    command_regex: "^rm"
  - id: a-read
    tool: Read
  - id: a-read-home
    tool: Read
    file_path_regex: "^/home"
  - id: a-ls
    tool: Bash
    command: ls
`)
	shadows := rs.Shadowed()
	got := map[string]string{}
	for _, s := range shadows {
		got[s.Rule.ID] = s.By.ID
	}
	want := map[string]string{
		"d-rm-again":  "d-rm",
		"a-rm":        "d-rm",
		"a-read-home": "a-read",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d shadows, got %+v", len(want), shadows)
	}
	for rule, by := range want {
		if got[rule] != by {
			t.Errorf("%s: expected shadowed by %s, got %q", rule, by, got[rule])
		}
	}
}

func TestAccessorsCopy(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - tool: Bash
allow:
  - tool: Read
  - tool: Write
`)
	if rs.Len() != 3 || len(rs.DenyRules()) != 1 || len(rs.AllowRules()) != 2 {
		t.Fatalf("unexpected counts")
	}
	d := rs.DenyRules()
	d[0] = nil
	if rs.DenyRules()[0] == nil {
		t.Error("DenyRules must return a copy")
	}
	rules := rs.Rules()
	if rules[0].Ref.Effect != model.EffectDeny || rules[2].Ref.ID != "allow[1]" {
		t.Errorf("unexpected evaluation order: %+v", rules)
	}
}

func TestViews(t *testing.T) {
	rs := mustCompileYAML(t, `
deny:
  - id: no-traversal
    tool: Read
    description: parent directory
    file_path_regex: "\\.\\."
allow:
  - tool: Task
    subagent_type: analyzer
  - tool: Read
    file_path_regex: "^/home/"
    file_path_exclude_regex: "\\.env$"
`)
	views := rs.Views()
	if len(views) != 3 {
		t.Fatalf("expected 3 views, got %d", len(views))
	}
	if v := views[0]; v.ID != "no-traversal" || v.Effect != "deny" || v.Description != "parent directory" {
		t.Errorf("unexpected first view: %+v", v)
	}
	if f := views[1].Fields[0]; !f.Literal || f.Include != "^analyzer$" {
		t.Errorf("literal constraint should render anchored, got %+v", f)
	}
	if f := views[2].Fields[0]; f.Exclude != `\.env$` || views[2].Index != 1 {
		t.Errorf("unexpected exclude view: %+v", views[2])
	}
	var nilSet *RuleSet
	if nilSet.Views() != nil {
		t.Error("nil rule set has no views")
	}
}
