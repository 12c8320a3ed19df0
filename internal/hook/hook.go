// Package hook speaks the agent host's hook protocol: one JSON request on
// stdin, at most one JSON decision on stdout.
package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/toolgate/internal/extract"
	"github.com/ppiankov/toolgate/internal/model"
)

// Hook event names understood by WriteDecision.
const (
	EventPreToolUse        = "PreToolUse"
	EventPermissionRequest = "PermissionRequest"
)

// maxRequestSize bounds how much of stdin is read for one request.
const maxRequestSize = 16 << 20

var (
	// ErrMalformedRequest is returned for input that is not a JSON object.
	ErrMalformedRequest = errors.New("malformed hook request")
	// ErrMissingToolName is returned when the request has no tool_name.
	ErrMissingToolName = errors.New("hook request has no tool_name")
)

// Request is the hook payload sent by the host for one tool call.
type Request struct {
	SessionID      string          `json:"session_id"`
	TranscriptPath string          `json:"transcript_path,omitempty"`
	Cwd            string          `json:"cwd,omitempty"`
	HookEventName  string          `json:"hook_event_name,omitempty"`
	ToolName       string          `json:"tool_name"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
}

// ReadRequest decodes one request from r.
func ReadRequest(r io.Reader) (*Request, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxRequestSize))
	if err != nil {
		return nil, fmt.Errorf("read hook request: %w", err)
	}
	return ParseRequest(data)
}

// ParseRequest decodes one request from data.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if strings.TrimSpace(req.ToolName) == "" {
		return nil, ErrMissingToolName
	}
	return &req, nil
}

// Invocation extracts the tool's schema fields from the request.
func (r *Request) Invocation() model.Invocation {
	return model.Invocation{
		ToolName:  r.ToolName,
		Fields:    extract.Extract(r.ToolName, r.ToolInput),
		SessionID: r.SessionID,
		Cwd:       r.Cwd,
	}
}

// Event returns the hook event name, defaulting to PreToolUse.
func (r *Request) Event() string {
	if r.HookEventName == "" {
		return EventPreToolUse
	}
	return r.HookEventName
}

// Output is the top-level object the host reads from stdout.
type Output struct {
	HookSpecificOutput SpecificOutput `json:"hookSpecificOutput"`
}

// SpecificOutput carries the decision in the shape the event expects.
// PreToolUse uses PermissionDecision; PermissionRequest uses Decision.
type SpecificOutput struct {
	HookEventName            string              `json:"hookEventName"`
	PermissionDecision       string              `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string              `json:"permissionDecisionReason,omitempty"`
	Decision                 *PermissionDecision `json:"decision,omitempty"`
}

// PermissionDecision is the PermissionRequest decision body.
type PermissionDecision struct {
	Behavior string `json:"behavior"`
	Message  string `json:"message,omitempty"`
}

// BuildOutput returns the hook output for d, or nil for passthrough.
func BuildOutput(event string, d model.Decision) *Output {
	if !d.Matched() {
		return nil
	}
	reason := Reason(d)
	if event == EventPermissionRequest {
		return &Output{HookSpecificOutput: SpecificOutput{
			HookEventName: EventPermissionRequest,
			Decision: &PermissionDecision{
				Behavior: string(d.Outcome),
				Message:  reason,
			},
		}}
	}
	return &Output{HookSpecificOutput: SpecificOutput{
		HookEventName:            EventPreToolUse,
		PermissionDecision:       string(d.Outcome),
		PermissionDecisionReason: reason,
	}}
}

// WriteDecision writes the decision for event to w. Passthrough writes
// nothing so the host falls back to its own permission flow.
func WriteDecision(w io.Writer, event string, d model.Decision) error {
	out := BuildOutput(event, d)
	if out == nil {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode hook output: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write hook output: %w", err)
	}
	return nil
}

// Reason returns the human-readable text shown to the agent.
func Reason(d model.Decision) string {
	if d.Reason != "" {
		return "toolgate: " + d.Reason
	}
	if d.Rule != nil {
		return fmt.Sprintf("toolgate: %s by rule %s", d.Outcome, d.Rule)
	}
	return ""
}
