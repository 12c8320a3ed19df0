package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/ppiankov/toolgate/internal/model"
)

// Level controls which decisions reach the audit sink.
type Level string

const (
	LevelOff     Level = "off"
	LevelMatched Level = "matched"
	LevelAll     Level = "all"
)

// ErrInvalidLevel is returned for audit levels other than off, matched, all.
var ErrInvalidLevel = errors.New("invalid audit level")

// ParseLevel maps a configuration string to a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelOff:
		return LevelOff, nil
	case LevelMatched:
		return LevelMatched, nil
	case LevelAll:
		return LevelAll, nil
	default:
		return "", fmt.Errorf("%w: %q (want off, matched or all)", ErrInvalidLevel, s)
	}
}

// ShouldRecord gates a decision by audit level: off never records, matched
// records deny and allow, all records every decision including passthrough.
func ShouldRecord(level Level, d model.Decision) bool {
	switch level {
	case LevelAll:
		return true
	case LevelMatched:
		return d.Matched()
	default:
		return false
	}
}

// Sink formats.
const (
	FormatJSONL  = "jsonl"
	FormatSQLite = "sqlite"
)

// Settings is the resolved audit section of a policy.
type Settings struct {
	Level         Level  `json:"level"`
	Path          string `json:"path,omitempty"`
	Format        string `json:"format,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// NewSettings validates raw audit configuration and fills defaults.
// An empty level means off, unless a path was given, which implies matched.
// An empty format is inferred from the path extension.
func NewSettings(level, path, format string, retentionDays int, pruneSchedule string) (Settings, error) {
	s := Settings{
		Path:          strings.TrimSpace(path),
		RetentionDays: retentionDays,
		PruneSchedule: strings.TrimSpace(pruneSchedule),
	}

	switch {
	case strings.TrimSpace(level) != "":
		l, err := ParseLevel(level)
		if err != nil {
			return Settings{}, err
		}
		s.Level = l
	case s.Path != "":
		s.Level = LevelMatched
	default:
		s.Level = LevelOff
	}

	if s.Level != LevelOff && s.Path == "" {
		s.Path = DefaultPath()
	}
	s.Path = expandHome(s.Path)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "":
		s.Format = inferFormat(s.Path)
	case FormatJSONL, "json":
		s.Format = FormatJSONL
	case FormatSQLite, "sqlite3", "db":
		s.Format = FormatSQLite
	default:
		return Settings{}, fmt.Errorf("unknown audit format %q (want jsonl or sqlite)", format)
	}

	if s.RetentionDays < 0 {
		return Settings{}, fmt.Errorf("retention_days must not be negative, got %d", s.RetentionDays)
	}
	if s.PruneSchedule != "" {
		if _, err := cron.ParseStandard(s.PruneSchedule); err != nil {
			return Settings{}, fmt.Errorf("invalid prune_schedule %q: %w", s.PruneSchedule, err)
		}
	}

	return s, nil
}

// DefaultPath is ~/.toolgate/audit.jsonl.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".toolgate", "audit.jsonl")
	}
	return filepath.Join(home, ".toolgate", "audit.jsonl")
}

func inferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	default:
		return FormatJSONL
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}
