package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/toolgate/internal/extract"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/profile"
)

// --- Input/Output types ---

// CheckInput defines parameters for the toolgate_check tool.
type CheckInput struct {
	ToolName  string         `json:"tool_name" jsonschema:"tool name as the agent host reports it, e.g. Bash or Read"`
	ToolInput map[string]any `json:"tool_input,omitempty" jsonschema:"the tool's input object"`
	Explain   bool           `json:"explain,omitempty" jsonschema:"include a per-rule match trace"`
}

// CheckOutput contains the decision.
type CheckOutput struct {
	Decision string            `json:"decision"`
	RuleID   string            `json:"rule_id,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Fields   map[string]string `json:"fields"`
	Trace    []TraceLine       `json:"trace,omitempty"`
}

// TraceLine reports how one rule fared against the invocation.
type TraceLine struct {
	RuleID  string `json:"rule_id"`
	Effect  string `json:"effect"`
	Matched bool   `json:"matched"`
	Skipped bool   `json:"skipped,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// RulesInput defines parameters for the toolgate_rules tool.
type RulesInput struct {
	Tool string `json:"tool,omitempty" jsonschema:"only list rules for this tool"`
}

// RulesOutput lists compiled rules.
type RulesOutput struct {
	PolicyHash string            `json:"policy_hash"`
	AuditLevel string            `json:"audit_level"`
	Rules      []policy.RuleView `json:"rules"`
	Tools      []string          `json:"tools"`
}

// ValidateInput defines parameters for the toolgate_validate tool.
type ValidateInput struct {
	Policy string `json:"policy" jsonschema:"policy document to compile"`
	Format string `json:"format,omitempty" jsonschema:"yaml (default), toml or json"`
}

// ValidateOutput reports whether a policy compiles, and where it fails.
type ValidateOutput struct {
	Valid      bool   `json:"valid"`
	Error      string `json:"error,omitempty"`
	Location   string `json:"location,omitempty"`
	Key        string `json:"key,omitempty"`
	DenyRules  int    `json:"deny_rules"`
	AllowRules int    `json:"allow_rules"`
	PolicyHash string `json:"policy_hash,omitempty"`
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	if input.ToolName == "" {
		return nil, CheckOutput{}, errors.New("tool_name is required")
	}

	inv := model.Invocation{
		ToolName: input.ToolName,
		Fields:   extract.FromMap(input.ToolName, input.ToolInput),
	}

	out := CheckOutput{Fields: inv.Fields}

	var d model.Decision
	if input.Explain {
		exp := s.gate.RuleSet().Explain(inv)
		d = exp.Decision
		for _, tr := range exp.Traces {
			out.Trace = append(out.Trace, TraceLine{
				RuleID:  tr.Rule.ID,
				Effect:  string(tr.Rule.Effect),
				Matched: tr.Matched,
				Skipped: tr.Skipped,
				Detail:  tr.Detail,
			})
		}
	} else {
		d = s.gate.Check(inv)
	}

	out.Decision = string(d.Outcome)
	out.RuleID = d.RuleID()
	out.Reason = d.Reason
	return nil, out, nil
}

func (s *Server) handleRules(ctx context.Context, req *mcpsdk.CallToolRequest, input RulesInput) (*mcpsdk.CallToolResult, RulesOutput, error) {
	rs := s.gate.RuleSet()
	out := RulesOutput{
		PolicyHash: rs.Hash(),
		AuditLevel: string(rs.Audit().Level),
		Rules:      []policy.RuleView{},
		Tools:      extract.Tools(),
	}
	for _, v := range rs.Views() {
		if input.Tool != "" && v.Tool != input.Tool {
			continue
		}
		out.Rules = append(out.Rules, v)
	}
	return nil, out, nil
}

// handleValidate compiles a policy document without installing it. A
// compile failure is a result, not a tool error.
func (s *Server) handleValidate(ctx context.Context, req *mcpsdk.CallToolRequest, input ValidateInput) (*mcpsdk.CallToolResult, ValidateOutput, error) {
	format := input.Format
	if format == "" {
		format = policy.FormatYAML
	}
	data := []byte(input.Policy)

	rs, err := compileDocument(data, format)
	if err != nil {
		out := ValidateOutput{Error: err.Error()}
		var ce *policy.ConfigError
		if errors.As(err, &ce) {
			out.Location, out.Key = ce.Location, ce.Key
		}
		return nil, out, nil
	}
	return nil, ValidateOutput{
		Valid:      true,
		DenyRules:  len(rs.DenyRules()),
		AllowRules: len(rs.AllowRules()),
		PolicyHash: rs.Hash(),
	}, nil
}

func compileDocument(data []byte, format string) (*policy.RuleSet, error) {
	cfg, err := policy.Parse(data, format)
	if err != nil {
		return nil, err
	}
	cfg.Hash = policy.HashBytes(data)
	expanded, err := profile.ApplyToPolicy(cfg)
	if err != nil {
		return nil, err
	}
	return policy.Compile(expanded)
}
