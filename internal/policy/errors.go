package policy

import (
	"errors"
	"fmt"
)

// Compile-time errors. Every one of them fails the whole rule set.
var (
	ErrMissingTool     = errors.New("rule has no tool")
	ErrUnknownEffect   = errors.New("unknown effect")
	ErrEffectMismatch  = errors.New("effect conflicts with the list the rule is declared in")
	ErrInvalidPattern  = errors.New("invalid pattern")
	ErrEmptyPattern    = errors.New("empty pattern")
	ErrMissingInclude  = errors.New("exclude pattern without include pattern")
	ErrConflictingKeys = errors.New("literal and regex constraint on the same field")
	ErrUnknownField    = errors.New("field not exposed by tool schema")
	ErrUnknownKey      = errors.New("unknown rule key")
	ErrInvalidValue    = errors.New("rule value must be a string")
	ErrUnknownProfile  = errors.New("unknown profile")
	ErrDuplicateID     = errors.New("duplicate rule id")
)

// ConfigError locates a compile failure: Location is the rule position
// ("deny[2]", "rules[0]", "audit"), Key the offending key when there is one.
type ConfigError struct {
	Location string
	Key      string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Location, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Location, e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(loc, key string, err error) *ConfigError {
	return &ConfigError{Location: loc, Key: key, Err: err}
}
