package gatev1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// EvalRequest asks the server to decide one tool invocation.
type EvalRequest struct {
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Cwd       string         `json:"cwd,omitempty"`
	// DryRun evaluates without audit, alerts or metrics.
	DryRun bool `json:"dry_run,omitempty"`
}

// EvalResponse carries the decision.
type EvalResponse struct {
	Decision        string `json:"decision"`
	RuleID          string `json:"rule_id,omitempty"`
	RuleEffect      string `json:"rule_effect,omitempty"`
	RuleIndex       int    `json:"rule_index,omitempty"`
	RuleDescription string `json:"rule_description,omitempty"`
	Reason          string `json:"reason,omitempty"`
	PolicyHash      string `json:"policy_hash,omitempty"`
}

// ListRulesResponse lists the compiled rules in evaluation order.
type ListRulesResponse struct {
	PolicyHash string     `json:"policy_hash"`
	Source     string     `json:"source,omitempty"`
	AuditLevel string     `json:"audit_level"`
	Rules      []RuleInfo `json:"rules"`
}

// RuleInfo is one compiled rule.
type RuleInfo struct {
	ID          string      `json:"id"`
	Effect      string      `json:"effect"`
	Index       int         `json:"index"`
	Tool        string      `json:"tool"`
	Description string      `json:"description,omitempty"`
	Fields      []FieldInfo `json:"fields,omitempty"`
}

// FieldInfo is one field constraint of a rule.
type FieldInfo struct {
	Name    string `json:"name"`
	Include string `json:"include"`
	Exclude string `json:"exclude,omitempty"`
	Literal bool   `json:"literal,omitempty"`
}

// ToStruct encodes v, a JSON-tagged message, as a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// FromStruct decodes s into v, a pointer to a JSON-tagged message. A nil
// Struct decodes as an empty object.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = new(structpb.Struct)
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
