// Package gate binds a compiled rule set to its side effects: audit,
// metrics and alerts. Every front end (hook, gRPC, MCP) decides through it.
package gate

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/toolgate/internal/alert"
	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/extract"
	"github.com/ppiankov/toolgate/internal/hook"
	"github.com/ppiankov/toolgate/internal/metrics"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/profile"
)

// Config holds gate configuration.
type Config struct {
	// PolicyPath is the policy file; empty means the default path.
	PolicyPath string
	// Alerts enables webhook dispatch. Only long-lived servers set it.
	Alerts  bool
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// LoadRuleSet reads, expands and compiles the policy at path.
func LoadRuleSet(path string) (*policy.RuleSet, error) {
	cfg, _, err := policy.LoadConfigWithHash(path)
	if err != nil {
		return nil, err
	}
	cfg, err = profile.ApplyToPolicy(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to expand profiles: %w", err)
	}
	rs, err := policy.Compile(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}
	return rs, nil
}

// state is everything that changes together on reload.
type state struct {
	rules      *policy.RuleSet
	recorder   *audit.Recorder
	dispatcher *alert.Dispatcher
}

// Gate evaluates invocations against the active rule set.
// Safe for concurrent use; Swap replaces the rule set atomically.
type Gate struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	current atomic.Pointer[state]
	swapMu  sync.Mutex
}

// New loads the policy at cfg.PolicyPath and opens its audit sink.
func New(cfg Config) (*Gate, error) {
	rs, err := LoadRuleSet(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	return NewWithRuleSet(cfg, rs)
}

// NewWithRuleSet builds a gate around an already compiled rule set.
func NewWithRuleSet(cfg Config, rs *policy.RuleSet) (*Gate, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &Gate{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "gate"),
		now:    time.Now,
	}
	if err := g.Swap(rs); err != nil {
		return nil, err
	}
	return g, nil
}

// RuleSet returns the active rule set.
func (g *Gate) RuleSet() *policy.RuleSet {
	return g.current.Load().rules
}

// Decide evaluates inv, records it and returns the decision. Audit and
// alert failures are logged and never change the decision.
func (g *Gate) Decide(inv model.Invocation) model.Decision {
	d, _ := g.DecideWithRules(inv)
	return d
}

// DecideWithRules is Decide that also returns the rule set that made the
// decision, which a concurrent Swap may already have replaced.
func (g *Gate) DecideWithRules(inv model.Invocation) (model.Decision, *policy.RuleSet) {
	st := g.current.Load()

	start := g.now()
	d := st.rules.Evaluate(inv)
	g.cfg.Metrics.RecordDecision(inv.ToolName, d, g.now().Sub(start))

	rec := st.recorder.Record(d, inv)
	if st.dispatcher != nil {
		st.dispatcher.Dispatch(alertEvent(d, inv, rec, st.rules, g.now()))
	}
	return d, st.rules
}

// DecideRequest extracts fields from a hook request and decides.
func (g *Gate) DecideRequest(req *hook.Request) model.Decision {
	return g.Decide(req.Invocation())
}

// Check evaluates inv without audit, alerts or metrics.
func (g *Gate) Check(inv model.Invocation) model.Decision {
	d, _ := g.CheckWithRules(inv)
	return d
}

// CheckWithRules is Check that also returns the deciding rule set.
func (g *Gate) CheckWithRules(inv model.Invocation) (model.Decision, *policy.RuleSet) {
	rs := g.current.Load().rules
	return rs.Evaluate(inv), rs
}

// Reload recompiles the policy file and swaps it in. On failure the
// active rule set stays in place.
func (g *Gate) Reload() error {
	rs, err := LoadRuleSet(g.cfg.PolicyPath)
	if err != nil {
		g.cfg.Metrics.RecordReload("error")
		return err
	}
	if err := g.Swap(rs); err != nil {
		g.cfg.Metrics.RecordReload("error")
		return err
	}
	g.cfg.Metrics.RecordReload("ok")
	return nil
}

// Swap installs rs. The audit sink is reused when the audit settings did
// not change; otherwise a new sink is opened and the old one closed. A sink
// that cannot be opened is logged and counted, and rs is installed with
// auditing off: the audit trail never blocks a decision.
func (g *Gate) Swap(rs *policy.RuleSet) error {
	if rs == nil {
		return errors.New("gate: nil rule set")
	}

	g.swapMu.Lock()
	defer g.swapMu.Unlock()

	old := g.current.Load()

	// A sink that failed to open is retried on the next swap.
	var sink audit.Sink
	reuse := old != nil && old.rules.Audit() == rs.Audit() && old.recorder.Sink() != nil
	if reuse {
		sink = old.recorder.Sink()
	} else {
		var err error
		sink, err = audit.OpenSink(rs.Audit())
		if err != nil {
			// Decisions go on unaudited.
			g.logger.Error("audit sink unavailable, recording disabled",
				"path", rs.Audit().Path,
				"level", rs.Audit().Level,
				"error", err,
			)
			g.cfg.Metrics.AuditFailed(rs.Audit().Level)
			sink = nil
		}
	}

	next := &state{
		rules: rs,
		recorder: audit.NewRecorder(rs.Audit().Level, sink,
			audit.WithLogger(g.cfg.Logger),
			audit.WithObserver(observer(g.cfg.Metrics)),
			audit.WithPolicyHash(rs.Hash()),
			audit.WithRedactor(rs.Redactor()),
		),
	}
	if g.cfg.Alerts {
		next.dispatcher = alert.NewDispatcher(rs.Alerts(), g.cfg.Logger)
	}
	g.current.Store(next)
	g.cfg.Metrics.SetRuleCounts(len(rs.DenyRules()), len(rs.AllowRules()))

	if old != nil && !reuse {
		if err := old.recorder.Close(); err != nil {
			g.logger.Warn("closing previous audit sink", "error", err)
		}
	}
	if old != nil {
		g.logger.Info("policy swapped",
			"hash", rs.Hash(),
			"deny_rules", len(rs.DenyRules()),
			"allow_rules", len(rs.AllowRules()),
			"audit_level", rs.Audit().Level,
		)
	}
	return nil
}

// Close waits for in-flight alerts and closes the audit sink.
func (g *Gate) Close() error {
	st := g.current.Load()
	if st == nil {
		return nil
	}
	st.dispatcher.Wait()
	return st.recorder.Close()
}

// observer avoids handing a typed nil *Collector to the recorder as a
// non-nil interface.
func observer(c *metrics.Collector) audit.Observer {
	if c == nil {
		return nil
	}
	return c
}

func alertEvent(d model.Decision, inv model.Invocation, rec *audit.Record, rs *policy.RuleSet, now time.Time) alert.AlertEvent {
	ev := alert.AlertEvent{
		Timestamp:  now.UTC().Format(audit.TimestampFormat),
		SessionID:  inv.SessionID,
		Tool:       inv.ToolName,
		Subject:    extract.Subject(rs.Redactor().Fields(inv.Fields)),
		Decision:   string(d.Outcome),
		RuleID:     d.RuleID(),
		Reason:     d.Reason,
		PolicyHash: rs.Hash(),
	}
	if rec != nil {
		ev.ID = rec.ID
		ev.Timestamp = rec.Timestamp
	}
	return ev
}
