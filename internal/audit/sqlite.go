package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteSink stores audit records in a SQLite database. Unlike the JSONL
// log it is not hash-chained, but it can be queried and pruned.
type SQLiteSink struct {
	db        *sql.DB
	path      string
	insert    *sql.Stmt
	closeOnce sync.Once
}

var _ Sink = (*SQLiteSink)(nil)

// OpenSQLite opens (or creates) a SQLite audit database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: sqlite path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		path, int((5 * time.Second).Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteSink{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: initialize schema: %w", err)
	}

	s.insert, err = db.Prepare(`
		INSERT INTO audit_records (
			id, ts, ts_unix, session_id, cwd, tool, decision,
			rule_id, rule_description, reason, fields, schema_version, policy_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: prepare insert: %w", err)
	}

	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		ts_unix INTEGER NOT NULL,
		session_id TEXT,
		cwd TEXT,
		tool TEXT NOT NULL,
		decision TEXT NOT NULL,
		rule_id TEXT,
		rule_description TEXT,
		reason TEXT,
		fields TEXT,
		schema_version INTEGER NOT NULL,
		policy_hash TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_records(ts_unix);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file.
func (s *SQLiteSink) Path() string { return s.path }

// Append inserts one record.
func (s *SQLiteSink) Append(rec Record) error {
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	ts, err := time.Parse(TimestampFormat, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("audit: parse timestamp %q: %w", rec.Timestamp, err)
	}

	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("audit: marshal fields: %w", err)
	}

	_, err = s.insert.Exec(
		rec.ID, rec.Timestamp, ts.UnixMilli(), rec.SessionID, rec.Cwd, rec.Tool, rec.Decision,
		rec.RuleID, rec.RuleDescription, rec.Reason, string(fields), rec.SchemaVersion, rec.PolicyHash,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

// Query returns records matching filter in insertion-time order. limit <= 0
// means no limit; otherwise the newest limit records are returned.
func (s *SQLiteSink) Query(ctx context.Context, filter ReplayFilter, limit int) ([]Record, error) {
	q := `SELECT id, ts, session_id, cwd, tool, decision, rule_id, rule_description,
		reason, fields, schema_version, policy_hash FROM audit_records WHERE 1=1`
	var args []any

	if filter.SessionID != "" {
		q += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Tool != "" {
		q += " AND tool = ?"
		args = append(args, filter.Tool)
	}
	if filter.Decision != "" {
		q += " AND decision = ? COLLATE NOCASE"
		args = append(args, filter.Decision)
	}
	if !filter.From.IsZero() {
		q += " AND ts_unix >= ?"
		args = append(args, filter.From.UnixMilli())
	}
	if !filter.To.IsZero() {
		q += " AND ts_unix <= ?"
		args = append(args, filter.To.UnixMilli())
	}
	q += " ORDER BY ts_unix DESC, rowid DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var session, cwd, ruleID, ruleDesc, reason, fields, policyHash sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &session, &cwd, &rec.Tool, &rec.Decision,
			&ruleID, &ruleDesc, &reason, &fields, &rec.SchemaVersion, &policyHash); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		rec.SessionID = session.String
		rec.Cwd = cwd.String
		rec.RuleID = ruleID.String
		rec.RuleDescription = ruleDesc.String
		rec.Reason = reason.String
		rec.PolicyHash = policyHash.String
		if fields.Valid && fields.String != "" && fields.String != "null" {
			if err := json.Unmarshal([]byte(fields.String), &rec.Fields); err != nil {
				return nil, fmt.Errorf("audit: decode fields of %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate records: %w", err)
	}

	// Newest-first from the query; callers want chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *SQLiteSink) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count records: %w", err)
	}
	return n, nil
}

// DeleteBefore removes records older than cutoff and returns how many were deleted.
func (s *SQLiteSink) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_records WHERE ts_unix < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("audit: delete records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit: rows affected: %w", err)
	}
	return n, nil
}

// Close releases the prepared statement and the database handle.
func (s *SQLiteSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.insert != nil {
			s.insert.Close()
		}
		err = s.db.Close()
	})
	return err
}
