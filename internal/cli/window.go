package cli

import (
	"fmt"
	"time"

	"github.com/ppiankov/toolgate/internal/audit"
)

// parseBound reads a --from/--to value: RFC3339, or a Go duration meaning
// that long before now ("24h"). Empty means unbounded.
func parseBound(flag, value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s time %q: want RFC3339 or a duration like 24h", flag, value)
	}
	return t, nil
}

// withWindow sets filter's time bounds from --from and --to values.
func withWindow(filter audit.ReplayFilter, from, to string) (audit.ReplayFilter, error) {
	now := time.Now().UTC()
	var err error
	if filter.From, err = parseBound("from", from, now); err != nil {
		return filter, err
	}
	if filter.To, err = parseBound("to", to, now); err != nil {
		return filter, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return filter, fmt.Errorf("--to %s is before --from %s", filter.To.Format(time.RFC3339), filter.From.Format(time.RFC3339))
	}
	return filter, nil
}
