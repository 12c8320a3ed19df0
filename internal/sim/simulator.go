package sim

import (
	"fmt"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/extract"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

// SimulateFile compiles policyPath, profiles included, and replays the audit
// log at logPath against it.
func SimulateFile(logPath, policyPath string, filter audit.ReplayFilter) (*SimResult, error) {
	rs, err := gate.LoadRuleSet(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	result, err := Simulate(logPath, rs, filter)
	if err != nil {
		return nil, err
	}
	result.PolicyPath = policyPath
	return result, nil
}

// Simulate replays the recorded invocations of an audit log against rs and
// returns every invocation whose decision would change. Records are
// re-evaluated from their stored tool name and fields, in log order.
func Simulate(logPath string, rs *policy.RuleSet, filter audit.ReplayFilter) (*SimResult, error) {
	replay, err := audit.Replay(logPath, filter)
	if err != nil {
		return nil, err
	}

	result := &SimResult{LogPath: logPath}
	sessions := make(map[string]bool)

	for _, rec := range replay.Records {
		result.TotalActions++
		sessions[rec.SessionID] = true

		inv := model.Invocation{
			ToolName:  rec.Tool,
			Fields:    rec.Fields,
			SessionID: rec.SessionID,
			Cwd:       rec.Cwd,
		}
		if inv.Fields == nil {
			inv.Fields = map[string]string{}
		}

		newDecision := rs.Evaluate(inv)
		oldOutcome, err := model.ParseOutcome(rec.Decision)
		if err != nil {
			result.Skipped++
			continue
		}

		if newDecision.Outcome == oldOutcome {
			if newDecision.RuleID() != rec.RuleID {
				result.RuleChanged++
			}
			continue
		}

		result.add(DiffEntry{
			Timestamp:   rec.Timestamp,
			SessionID:   rec.SessionID,
			Tool:        rec.Tool,
			Subject:     extract.Subject(rec.Fields),
			OldDecision: string(oldOutcome),
			NewDecision: string(newDecision.Outcome),
			OldRule:     rec.RuleID,
			NewRule:     newDecision.RuleID(),
			OldReason:   rec.Reason,
			NewReason:   newDecision.Reason,
		})
	}
	result.Sessions = len(sessions)

	return result, nil
}
