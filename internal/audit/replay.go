package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// TimestampFormat is the layout used in audit record timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ReplayFilter holds filtering criteria for replay. Empty fields match all.
type ReplayFilter struct {
	SessionID string
	Tool      string
	Decision  string
	From      time.Time // zero value = no lower bound
	To        time.Time // zero value = no upper bound
}

// Match reports whether rec passes the filter.
func (f ReplayFilter) Match(rec Record) bool {
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.Tool != "" && rec.Tool != f.Tool {
		return false
	}
	if f.Decision != "" && !strings.EqualFold(rec.Decision, f.Decision) {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, rec.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

// ReplaySummary holds decision counts for a replayed slice of the log.
type ReplaySummary struct {
	Total            int            `json:"total"`
	AllowCount       int            `json:"allow_count"`
	DenyCount        int            `json:"deny_count"`
	PassthroughCount int            `json:"passthrough_count"`
	Rules            map[string]int `json:"rules,omitempty"`
	FirstTimestamp   string         `json:"first_timestamp"`
	LastTimestamp    string         `json:"last_timestamp"`
}

// ReplayResult holds filtered records and their summary.
type ReplayResult struct {
	SessionID string        `json:"session_id,omitempty"`
	Records   []Record      `json:"records"`
	Summary   ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns records matching the filter.
// SQLite logs are queried directly; malformed JSONL lines are skipped.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	result := &ReplayResult{SessionID: filter.SessionID}

	if inferFormat(path) == FormatSQLite {
		recs, err := querySQLite(context.Background(), path, filter)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			result.Records = append(result.Records, rec)
			updateSummary(&result.Summary, rec)
		}
		return result, nil
	}

	err := Scan(path, func(rec Record) error {
		if !filter.Match(rec) {
			return nil
		}
		result.Records = append(result.Records, rec)
		updateSummary(&result.Summary, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Scan calls fn for every well-formed record in a JSONL audit log, in order.
// A non-nil error from fn stops the scan and is returned.
func Scan(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	return scanReader(f, fn)
}

// querySQLite reads matching records from an existing SQLite audit database.
// A missing file is an error rather than a fresh empty database.
func querySQLite(ctx context.Context, path string, filter ReplayFilter) ([]Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	s, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Query(ctx, filter, 0)
}

func scanReader(r io.Reader, fn func(Record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	return nil
}

func updateSummary(s *ReplaySummary, rec Record) {
	s.Total++

	switch strings.ToLower(rec.Decision) {
	case "allow":
		s.AllowCount++
	case "deny":
		s.DenyCount++
	case "passthrough":
		s.PassthroughCount++
	}

	if rec.RuleID != "" {
		if s.Rules == nil {
			s.Rules = make(map[string]int)
		}
		s.Rules[rec.RuleID]++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = rec.Timestamp
	}
	s.LastTimestamp = rec.Timestamp
}
