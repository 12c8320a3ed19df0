// Package metrics exposes Prometheus counters and histograms for the gate.
//
// Metrics:
//   - toolgate_decisions_total: decisions by tool and outcome
//   - toolgate_rule_hits_total: matched rules by rule id and effect
//   - toolgate_evaluation_duration_seconds: extract + evaluate latency by outcome
//   - toolgate_audit_writes_total / toolgate_audit_failures_total: audit appends by level
//   - toolgate_policy_reloads_total: reload attempts by result
//   - toolgate_policy_rules: compiled rules per effect class
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/extract"
	"github.com/ppiankov/toolgate/internal/model"
)

const namespace = "toolgate"

// otherTool is the label used for tools without a schema, which keeps the
// tool label bounded no matter what the agent sends.
const otherTool = "other"

// Collector owns the gate's metrics and the registry they live in.
type Collector struct {
	registry *prometheus.Registry

	decisions     *prometheus.CounterVec
	ruleHits      *prometheus.CounterVec
	evalDuration  *prometheus.HistogramVec
	auditWrites   *prometheus.CounterVec
	auditFailures *prometheus.CounterVec
	policyReloads *prometheus.CounterVec
	policyRules   *prometheus.GaugeVec
}

// New creates and registers the gate metrics. If registry is nil a fresh
// one is created.
func New(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of decisions by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ruleHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_hits_total",
				Help:      "Total number of decisions made by each rule",
			},
			[]string{"rule_id", "effect"},
		),
		evalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of field extraction and rule evaluation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"outcome"},
		),
		auditWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "writes_total",
				Help:      "Total number of audit records appended",
			},
			[]string{"level"},
		),
		auditFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "failures_total",
				Help:      "Total number of audit appends that failed",
			},
			[]string{"level"},
		),
		policyReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "reloads_total",
				Help:      "Total number of policy reload attempts by result",
			},
			[]string{"result"},
		),
		policyRules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "rules",
				Help:      "Number of compiled rules in the active policy",
			},
			[]string{"effect"},
		),
	}

	registry.MustRegister(
		c.decisions,
		c.ruleHits,
		c.evalDuration,
		c.auditWrites,
		c.auditFailures,
		c.policyReloads,
		c.policyRules,
	)
	return c
}

// Registry returns the registry the collector registered into.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordDecision counts one decision and its evaluation latency.
func (c *Collector) RecordDecision(tool string, d model.Decision, duration time.Duration) {
	if c == nil {
		return
	}
	if _, known := extract.Lookup(tool); !known {
		tool = otherTool
	}
	outcome := string(d.Outcome)
	c.decisions.WithLabelValues(tool, outcome).Inc()
	c.evalDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if d.Rule != nil {
		c.ruleHits.WithLabelValues(d.Rule.ID, string(d.Rule.Effect)).Inc()
	}
}

// AuditWritten implements audit.Observer.
func (c *Collector) AuditWritten(level audit.Level) {
	if c == nil {
		return
	}
	c.auditWrites.WithLabelValues(string(level)).Inc()
}

// AuditFailed implements audit.Observer.
func (c *Collector) AuditFailed(level audit.Level) {
	if c == nil {
		return
	}
	c.auditFailures.WithLabelValues(string(level)).Inc()
}

// RecordReload counts a reload attempt. result is "ok" or "error".
func (c *Collector) RecordReload(result string) {
	if c == nil {
		return
	}
	c.policyReloads.WithLabelValues(result).Inc()
}

// SetRuleCounts publishes the size of the active rule set.
func (c *Collector) SetRuleCounts(deny, allow int) {
	if c == nil {
		return
	}
	c.policyRules.WithLabelValues(string(model.EffectDeny)).Set(float64(deny))
	c.policyRules.WithLabelValues(string(model.EffectAllow)).Set(float64(allow))
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

var _ audit.Observer = (*Collector)(nil)
