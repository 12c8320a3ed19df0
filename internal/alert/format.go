package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for cfg's format.
func FormatPayload(cfg AlertConfig, event AlertEvent) ([]byte, error) {
	switch cfg.Format {
	case "slack":
		return json.Marshal(slackMessage(event))
	case "pagerduty":
		return json.Marshal(pagerDutyMessage(cfg.RoutingKey, event))
	default:
		return json.Marshal(event)
	}
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

var slackColors = map[string]string{
	"deny":        "#d62728",
	"allow":       "#2ca02c",
	"passthrough": "#7f7f7f",
}

func slackMessage(event AlertEvent) slackPayload {
	rule := event.RuleID
	if rule == "" {
		rule = "(none)"
	}
	subject := "(none)"
	if event.Subject != "" {
		subject = "`" + event.Subject + "`"
	}
	return slackPayload{
		Text: fmt.Sprintf("toolgate %s: %s", event.Decision, event.Tool),
		Attachments: []slackAttachment{{
			Color: slackColors[event.Decision],
			Fields: []slackField{
				{Title: "Rule", Value: rule, Short: true},
				{Title: "Session", Value: event.SessionID, Short: true},
				{Title: "Subject", Value: subject},
				{Title: "Reason", Value: event.Reason},
			},
			Footer: event.PolicyHash,
		}},
	}
}

type pagerDutyPayload struct {
	RoutingKey  string        `json:"routing_key"`
	EventAction string        `json:"event_action"`
	DedupKey    string        `json:"dedup_key,omitempty"`
	Payload     pagerDutyBody `json:"payload"`
}

type pagerDutyBody struct {
	Summary       string            `json:"summary"`
	Source        string            `json:"source"`
	Severity      string            `json:"severity"`
	Timestamp     string            `json:"timestamp,omitempty"`
	Component     string            `json:"component"`
	CustomDetails map[string]string `json:"custom_details"`
}

func pagerDutyMessage(routingKey string, event AlertEvent) pagerDutyPayload {
	severity := "info"
	switch event.Decision {
	case "deny":
		severity = "error"
	case "passthrough":
		severity = "warning"
	}
	p := pagerDutyPayload{
		RoutingKey:  routingKey,
		EventAction: "trigger",
		Payload: pagerDutyBody{
			Summary:   fmt.Sprintf("toolgate %s: %s %s", event.Decision, event.Tool, event.Subject),
			Source:    "toolgate",
			Severity:  severity,
			Timestamp: event.Timestamp,
			Component: event.Tool,
			CustomDetails: map[string]string{
				"rule_id":     event.RuleID,
				"reason":      event.Reason,
				"session_id":  event.SessionID,
				"policy_hash": event.PolicyHash,
			},
		},
	}
	// One incident per rule and session, however often the agent retries.
	if event.RuleID != "" {
		p.DedupKey = event.RuleID + "/" + event.SessionID
	}
	return p
}
