package audit

// Record is one audit entry. Fields is a string map, which encoding/json
// marshals with sorted keys, so a record always hashes the same way.
type Record struct {
	Timestamp       string            `json:"ts"`
	ID              string            `json:"id"`
	SessionID       string            `json:"session_id,omitempty"`
	Cwd             string            `json:"cwd,omitempty"`
	Tool            string            `json:"tool"`
	Decision        string            `json:"decision"`
	RuleID          string            `json:"rule_id,omitempty"`
	RuleDescription string            `json:"rule_description,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
	SchemaVersion   int               `json:"schema_version"`
	PolicyHash      string            `json:"policy_hash,omitempty"`
	PrevHash        string            `json:"prev_hash"`
}

// Sink persists audit records. Implementations must tolerate concurrent
// Append calls; the Recorder serializes them anyway.
type Sink interface {
	Append(rec Record) error
	Close() error
}
