package alert

import (
	"fmt"
	"net/url"
	"strings"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"                   toml:"url"                   json:"url"`
	Format  string            `yaml:"format"                toml:"format"                json:"format"` // generic, slack, pagerduty
	Events  []string          `yaml:"events"                toml:"events"                json:"events"` // deny, allow, passthrough
	Headers map[string]string `yaml:"headers,omitempty"     toml:"headers,omitempty"     json:"headers,omitempty"`

	// RoutingKey is the PagerDuty Events v2 integration key.
	RoutingKey string `yaml:"routing_key,omitempty" toml:"routing_key,omitempty" json:"routing_key,omitempty"`
}

// Wants reports whether the destination subscribed to decision.
func (c AlertConfig) Wants(decision string) bool {
	for _, e := range c.Events {
		if strings.EqualFold(e, decision) {
			return true
		}
	}
	return false
}

// Validate checks that the destination is usable: an absolute http(s) URL,
// a known format and only known event names.
func (c AlertConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("alert url %q must be an absolute http(s) URL", c.URL)
	}
	switch c.Format {
	case "", "generic", "slack":
	case "pagerduty":
		if c.RoutingKey == "" {
			return fmt.Errorf("alert %s: pagerduty format needs routing_key", c.URL)
		}
	default:
		return fmt.Errorf("unknown alert format %q (want generic, slack or pagerduty)", c.Format)
	}
	if len(c.Events) == 0 {
		return fmt.Errorf("alert %s lists no events", c.URL)
	}
	for _, e := range c.Events {
		switch strings.ToLower(e) {
		case "deny", "allow", "passthrough":
		default:
			return fmt.Errorf("unknown alert event %q (want deny, allow or passthrough)", e)
		}
	}
	return nil
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp  string `json:"timestamp"`
	ID         string `json:"id"`
	SessionID  string `json:"session_id,omitempty"`
	Tool       string `json:"tool"`
	Subject    string `json:"subject,omitempty"`
	Decision   string `json:"decision"`
	RuleID     string `json:"rule_id,omitempty"`
	Reason     string `json:"reason"`
	PolicyHash string `json:"policy_hash"`
}
