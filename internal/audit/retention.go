package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNotPrunable is returned when the sink cannot delete records. The JSONL
// log is append-only: removing lines would break its hash chain.
var ErrNotPrunable = errors.New("audit sink does not support pruning")

// Prunable is implemented by sinks that can delete old records.
type Prunable interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner enforces retention_days on a prunable sink.
type Pruner struct {
	target        Prunable
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewPruner returns a Pruner for sink. It fails with ErrNotPrunable when the
// sink cannot delete records.
func NewPruner(sink Sink, retentionDays int) (*Pruner, error) {
	target, ok := sink.(Prunable)
	if !ok {
		return nil, ErrNotPrunable
	}
	return &Pruner{
		target:        target,
		retentionDays: retentionDays,
		logger:        slog.Default().With("component", "audit.retention"),
		now:           time.Now,
	}, nil
}

// Prune deletes records older than the retention period. Zero retention
// keeps everything.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.retentionDays <= 0 {
		p.logger.Debug("retention disabled, nothing pruned")
		return 0, nil
	}

	cutoff := p.now().AddDate(0, 0, -p.retentionDays)
	deleted, err := p.target.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune records older than %d days: %w", p.retentionDays, err)
	}

	p.logger.Info("pruned audit records",
		"deleted_count", deleted,
		"retention_days", p.retentionDays,
	)
	return deleted, nil
}

// Scheduler runs a Pruner on a cron schedule.
type Scheduler struct {
	pruner   *Pruner
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a scheduler for pruner using a standard five-field
// cron expression, e.g. "0 3 * * *" for daily at 3 AM.
func NewScheduler(pruner *Pruner, schedule string) *Scheduler {
	return &Scheduler{
		pruner:   pruner,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "audit.scheduler"),
	}
}

// Start registers the pruning job and starts the cron loop. An empty
// schedule is a no-op. The scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.runPruning(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started",
		"schedule", s.schedule,
		"retention_days", s.pruner.retentionDays,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) runPruning(ctx context.Context) {
	if _, err := s.pruner.Prune(ctx); err != nil {
		s.logger.Error("scheduled pruning failed", "error", err)
	}
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		done := s.cron.Stop()
		<-done.Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning reports whether the cron loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled pruning time, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
