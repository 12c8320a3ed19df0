package audit

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/toolgate/internal/extract"
	"github.com/ppiankov/toolgate/internal/model"
)

// Observer is notified about every append attempt. The metrics package
// implements it; audit does not depend on metrics.
type Observer interface {
	AuditWritten(level Level)
	AuditFailed(level Level)
}

// Redactor masks secrets in field values before they are recorded.
type Redactor interface {
	Fields(map[string]string) map[string]string
}

// Recorder turns decisions into audit records and appends them to a Sink.
// Append failures are logged and counted, never returned: the decision has
// already been made and must not change because the audit trail is broken.
type Recorder struct {
	level      Level
	sink       Sink
	policyHash string
	logger     *slog.Logger
	observer   Observer
	redactor   Redactor
	now        func() time.Time
	mu         sync.Mutex
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the diagnostic logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithObserver sets the append observer.
func WithObserver(o Observer) Option {
	return func(r *Recorder) { r.observer = o }
}

// WithRedactor masks field values before they reach the sink.
func WithRedactor(rd Redactor) Option {
	return func(r *Recorder) { r.redactor = rd }
}

// WithPolicyHash stamps every record with the hash of the active policy file.
func WithPolicyHash(h string) Option {
	return func(r *Recorder) { r.policyHash = h }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns a Recorder writing to sink at the given level.
// A nil sink behaves like level off.
func NewRecorder(level Level, sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		level:  level,
		sink:   sink,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "audit")
	if r.sink == nil {
		r.level = LevelOff
	}
	return r
}

// Level returns the effective audit level.
func (r *Recorder) Level() Level {
	if r == nil {
		return LevelOff
	}
	return r.level
}

// Sink returns the underlying sink, nil when auditing is off.
func (r *Recorder) Sink() Sink {
	if r == nil {
		return nil
	}
	return r.sink
}

// Record appends an audit record for d if the level asks for it and returns
// the record that was attempted, or nil when the level filtered it out.
func (r *Recorder) Record(d model.Decision, inv model.Invocation) *Record {
	if r == nil || !ShouldRecord(r.level, d) {
		return nil
	}

	fields := maps.Clone(inv.Fields)
	if r.redactor != nil {
		fields = r.redactor.Fields(fields)
	}

	rec := Record{
		Timestamp:     r.now().UTC().Format(TimestampFormat),
		ID:            uuid.NewString(),
		SessionID:     inv.SessionID,
		Cwd:           inv.Cwd,
		Tool:          inv.ToolName,
		Decision:      string(d.Outcome),
		Reason:        d.Reason,
		Fields:        fields,
		SchemaVersion: extract.SchemaVersion,
		PolicyHash:    r.policyHash,
	}
	if d.Rule != nil {
		rec.RuleID = d.Rule.ID
		rec.RuleDescription = d.Rule.Description
	}

	r.mu.Lock()
	err := r.sink.Append(rec)
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("audit append failed",
			"error", err,
			"tool", rec.Tool,
			"decision", rec.Decision,
			"rule_id", rec.RuleID,
		)
		if r.observer != nil {
			r.observer.AuditFailed(r.level)
		}
		return &rec
	}

	if r.observer != nil {
		r.observer.AuditWritten(r.level)
	}
	return &rec
}

// Close closes the sink.
func (r *Recorder) Close() error {
	if r == nil || r.sink == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink.Close()
}
