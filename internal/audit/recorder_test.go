package audit

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/redact"
)

type memSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (m *memSink) Append(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memSink) Close() error { return nil }

type countingObserver struct {
	written, failed int
}

func (c *countingObserver) AuditWritten(Level) { c.written++ }
func (c *countingObserver) AuditFailed(Level)  { c.failed++ }

func bashInvocation(cmd string) model.Invocation {
	return model.Invocation{
		ToolName:  "Bash",
		Fields:    map[string]string{"command": cmd},
		SessionID: "sess-1",
		Cwd:       "/work",
	}
}

func TestRecorderMatchedSkipsPassthrough(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(LevelMatched, sink)

	if rec := r.Record(model.NoMatch(), bashInvocation("ls")); rec != nil {
		t.Fatalf("passthrough should not be recorded at matched, got %+v", rec)
	}
	ref := model.RuleRef{ID: "rm", Effect: model.EffectDeny, Description: "no rm"}
	rec := r.Record(model.Denied("Bash", ref), bashInvocation("rm -rf /"))
	if rec == nil {
		t.Fatal("expected deny to be recorded")
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record in sink, got %d", len(sink.records))
	}

	got := sink.records[0]
	if got.Decision != "deny" || got.RuleID != "rm" || got.RuleDescription != "no rm" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.SessionID != "sess-1" || got.Cwd != "/work" || got.Fields["command"] != "rm -rf /" {
		t.Errorf("invocation context not carried: %+v", got)
	}
	if got.ID == "" || got.SchemaVersion != 1 {
		t.Errorf("expected id and schema version, got %+v", got)
	}
}

func TestRecorderAllRecordsPassthrough(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(LevelAll, sink, WithPolicyHash("sha256:p"))

	rec := r.Record(model.NoMatch(), bashInvocation("ls"))
	if rec == nil || rec.Decision != "passthrough" || rec.RuleID != "" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if sink.records[0].PolicyHash != "sha256:p" {
		t.Errorf("expected policy hash, got %q", sink.records[0].PolicyHash)
	}
}

func TestRecorderOffNeverAppends(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(LevelOff, sink)
	r.Record(model.Denied("Bash", model.RuleRef{ID: "x"}), bashInvocation("rm"))
	if len(sink.records) != 0 {
		t.Errorf("expected no records, got %d", len(sink.records))
	}
}

func TestRecorderNilSinkIsOff(t *testing.T) {
	r := NewRecorder(LevelAll, nil)
	if r.Level() != LevelOff {
		t.Errorf("expected level off with nil sink, got %q", r.Level())
	}
	if rec := r.Record(model.NoMatch(), bashInvocation("ls")); rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}

	var nilRec *Recorder
	if nilRec.Record(model.NoMatch(), bashInvocation("ls")) != nil {
		t.Error("nil recorder should record nothing")
	}
	if err := nilRec.Close(); err != nil {
		t.Errorf("nil recorder close: %v", err)
	}
}

func TestRecorderAppendFailureIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	obs := &countingObserver{}
	sink := &memSink{err: errors.New("disk full")}

	r := NewRecorder(LevelMatched, sink, WithLogger(logger), WithObserver(obs))
	d := model.Denied("Bash", model.RuleRef{ID: "rm"})
	before := d

	rec := r.Record(d, bashInvocation("rm -rf /"))
	if rec == nil {
		t.Fatal("expected the attempted record to be returned")
	}
	if d.Outcome != before.Outcome || d.RuleID() != before.RuleID() {
		t.Error("decision must not change on audit failure")
	}
	if !strings.Contains(buf.String(), "audit append failed") || !strings.Contains(buf.String(), "disk full") {
		t.Errorf("expected diagnostic log, got %q", buf.String())
	}
	if obs.failed != 1 || obs.written != 0 {
		t.Errorf("expected 1 failure, got written=%d failed=%d", obs.written, obs.failed)
	}
}

func TestRecorderClockAndCopy(t *testing.T) {
	sink := &memSink{}
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRecorder(LevelAll, sink, WithClock(func() time.Time { return fixed }))

	inv := bashInvocation("ls")
	r.Record(model.NoMatch(), inv)
	inv.Fields["command"] = "mutated"

	got := sink.records[0]
	if got.Timestamp != "2025-03-01T12:00:00.000Z" {
		t.Errorf("unexpected timestamp %q", got.Timestamp)
	}
	if got.Fields["command"] != "ls" {
		t.Errorf("record fields must be a copy, got %q", got.Fields["command"])
	}
}

func TestRecorderRedactsFields(t *testing.T) {
	rd, err := redact.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	sink := &memSink{}
	r := NewRecorder(LevelAll, sink, WithRedactor(rd))

	inv := bashInvocation("curl -u admin --password=hunter2 https://x")
	r.Record(model.NoMatch(), inv)

	got := sink.records[0].Fields["command"]
	if strings.Contains(got, "hunter2") || !strings.Contains(got, "[REDACTED:CRED]") {
		t.Errorf("expected masked command, got %q", got)
	}
	if inv.Fields["command"] != "curl -u admin --password=hunter2 https://x" {
		t.Error("redaction must not touch the caller's invocation")
	}
}

func TestRecorderConcurrentAppendsKeepChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRecorder(LevelAll, log)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(model.NoMatch(), bashInvocation("ls"))
		}()
	}
	wg.Wait()
	r.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 50 {
		t.Fatalf("expected 50 valid lines, got %+v", result)
	}
}
