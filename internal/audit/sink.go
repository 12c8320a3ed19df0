package audit

import "fmt"

// OpenSink opens the sink described by settings. It returns a nil Sink when
// the level is off, so nothing is created on disk.
func OpenSink(s Settings) (Sink, error) {
	if s.Level == LevelOff || s.Level == "" {
		return nil, nil
	}
	switch s.Format {
	case FormatSQLite:
		return OpenSQLite(s.Path)
	case FormatJSONL, "":
		return Open(s.Path)
	default:
		return nil, fmt.Errorf("audit: unknown format %q", s.Format)
	}
}
