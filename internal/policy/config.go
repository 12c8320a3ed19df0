package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/toolgate/internal/alert"
)

// Policy file formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
	FormatJSON = "json"
)

// AuditConfig is the raw audit section of a policy file.
type AuditConfig struct {
	Level         string `yaml:"level,omitempty"          toml:"level,omitempty"          json:"level,omitempty"`
	Path          string `yaml:"path,omitempty"           toml:"path,omitempty"           json:"path,omitempty"`
	Format        string `yaml:"format,omitempty"         toml:"format,omitempty"         json:"format,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty" toml:"retention_days,omitempty" json:"retention_days,omitempty"`
	PruneSchedule string `yaml:"prune_schedule,omitempty" toml:"prune_schedule,omitempty" json:"prune_schedule,omitempty"`

	// Redact masks credentials in recorded fields and alert subjects.
	Redact         bool     `yaml:"redact,omitempty"          toml:"redact,omitempty"          json:"redact,omitempty"`
	RedactPatterns []string `yaml:"redact_patterns,omitempty" toml:"redact_patterns,omitempty" json:"redact_patterns,omitempty"`
}

// RuleDecl is one uncompiled rule as written in the policy file:
// tool, id, description, effect, and per-field constraint keys.
type RuleDecl map[string]any

// Config is a parsed, uncompiled policy file.
type Config struct {
	Audit    AuditConfig         `yaml:"audit,omitempty"    toml:"audit,omitempty"    json:"audit,omitempty"`
	Profiles []string            `yaml:"profiles,omitempty" toml:"profiles,omitempty" json:"profiles,omitempty"`
	Deny     []RuleDecl          `yaml:"deny,omitempty"     toml:"deny,omitempty"     json:"deny,omitempty"`
	Allow    []RuleDecl          `yaml:"allow,omitempty"    toml:"allow,omitempty"    json:"allow,omitempty"`
	Rules    []RuleDecl          `yaml:"rules,omitempty"    toml:"rules,omitempty"    json:"rules,omitempty"`
	Alerts   []alert.AlertConfig `yaml:"alerts,omitempty"   toml:"alerts,omitempty"   json:"alerts,omitempty"`

	// ProfileDeny and ProfileAllow hold expanded profile rules. Compile
	// appends them after every rule the file declares, rules: included.
	ProfileDeny  []RuleDecl `yaml:"-" toml:"-" json:"-"`
	ProfileAllow []RuleDecl `yaml:"-" toml:"-" json:"-"`

	// Hash is "sha256:<hex>" of the file bytes; Source is the file path.
	Hash   string `yaml:"-" toml:"-" json:"-"`
	Source string `yaml:"-" toml:"-" json:"-"`
}

// DefaultPath returns ~/.toolgate/policy.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".toolgate", "policy.yaml")
	}
	return filepath.Join(home, ".toolgate", "policy.yaml")
}

// FormatFor picks the policy format from a file extension. Anything that is
// not .toml or .json is read as YAML.
func FormatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// LoadConfig loads a policy file. See LoadConfigWithHash.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads a policy file and returns its SHA-256 hash.
// Empty path falls back to DefaultPath; a missing default file yields an
// empty policy hashed over empty input. A missing explicit path is an error.
func LoadConfigWithHash(path string) (*Config, string, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			cfg := &Config{Hash: HashBytes(nil)}
			return cfg, cfg.Hash, nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	cfg, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse policy config %s: %w", path, err)
	}
	cfg.Hash = HashBytes(data)
	cfg.Source = path
	return cfg, cfg.Hash, nil
}

// Parse decodes policy bytes in the given format. Unknown top-level keys
// are rejected so a typo cannot silently drop a section.
func Parse(data []byte, format string) (*Config, error) {
	cfg := &Config{}

	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown policy format %q", format)
	}

	return cfg, nil
}

// Marshal renders cfg in the given format.
func Marshal(cfg *Config, format string) ([]byte, error) {
	switch format {
	case FormatTOML:
		return toml.Marshal(cfg)
	case FormatJSON:
		return json.MarshalIndent(cfg, "", "  ")
	default:
		return yaml.Marshal(cfg)
	}
}

// HashBytes returns "sha256:<hex>" of data.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented YAML starter policy for init-policy.
func DefaultConfigYAML() string {
	return `# toolgate policy
# Generated by: toolgate init-policy
#
# Evaluation order (cannot be changed):
#   1. deny rules, in the order written  -> first match denies
#   2. allow rules, in the order written -> first match allows
#   3. nothing matched                   -> passthrough (the agent asks as usual)
#
# Rule keys:
#   tool: exact tool name (required)
#   id, description: shown in reasons and audit records
#   <field>: exact value
#   <field>_regex: unanchored regex, use ^ and $ to anchor
#   <field>_exclude_regex: value must NOT match this
# A rule matches only if every field it names is present and satisfied.

audit:
  level: matched          # off | matched | all
  path: ~/.toolgate/audit.jsonl

# Built-in bundles appended after the rules below: destructive-shell, secrets, read-only
profiles:
  - destructive-shell

deny:
  - id: rm-rf
    tool: Bash
    command_regex: '^rm\s+.*-[a-zA-Z]*r[a-zA-Z]*f'
    description: recursive force delete
  - id: path-traversal-read
    tool: Read
    file_path_regex: '\.\.'
    description: relative path escapes

allow:
  - id: cargo
    tool: Bash
    command_regex: '^cargo (build|test|check|fmt|clippy)\b'
  - id: read-home
    tool: Read
    file_path_regex: '^/home/'
    file_path_exclude_regex: '\.\.'
  - id: analyzer
    tool: Task
    subagent_type: codebase-analyzer
`
}
