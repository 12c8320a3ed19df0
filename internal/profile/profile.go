package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/toolgate/internal/policy"
)

// Profile is a named, reusable bundle of deny and allow rules.
type Profile struct {
	Name        string            `yaml:"name"            toml:"name"            json:"name"`
	Description string            `yaml:"description"     toml:"description"     json:"description"`
	Deny        []policy.RuleDecl `yaml:"deny,omitempty"  toml:"deny,omitempty"  json:"deny,omitempty"`
	Allow       []policy.RuleDecl `yaml:"allow,omitempty" toml:"allow,omitempty" json:"allow,omitempty"`

	// Source is "builtin" or the file the profile was read from.
	Source string `yaml:"-" toml:"-" json:"-"`
}

// extensions are tried in order when resolving a user profile by name.
var extensions = []string{".yaml", ".yml", ".toml", ".json"}

// Dir returns ~/.toolgate/profiles, where user profiles live.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".toolgate", "profiles")
	}
	return filepath.Join(home, ".toolgate", "profiles")
}

// Load resolves a profile by name: built-ins first, then
// ~/.toolgate/profiles/<name> with a YAML, TOML or JSON extension.
func Load(name string) (*Profile, error) {
	if data, ok := builtinProfiles[name]; ok {
		p, err := decode(data, policy.FormatYAML)
		if err != nil {
			return nil, fmt.Errorf("built-in profile %q: %w", name, err)
		}
		p.Source = "builtin"
		return p, nil
	}

	for _, ext := range extensions {
		path := filepath.Join(Dir(), name+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		p, err := decode(data, policy.FormatFor(path))
		if err != nil {
			return nil, fmt.Errorf("profile %q (%s): %w", name, path, err)
		}
		if p.Name == "" {
			p.Name = name
		}
		p.Source = path
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", policy.ErrUnknownProfile, name)
}

// decode reads a profile strictly: an unknown top-level key is an error.
func decode(data []byte, format string) (*Profile, error) {
	var p Profile
	var err error
	switch format {
	case policy.FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&p)
	case policy.FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&p)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&p)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &p, nil
}

// IsBuiltin reports whether name is an embedded profile.
func IsBuiltin(name string) bool {
	_, ok := builtinProfiles[name]
	return ok
}

// List returns the sorted names of built-in and user profiles. A user
// profile that shadows a built-in is listed once.
func List() []string {
	var names []string
	for name := range builtinProfiles {
		names = append(names, name)
	}
	entries, _ := os.ReadDir(Dir())
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || !slices.Contains(extensions, ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Validate checks that a profile has a name and that its rules compile on
// their own.
func Validate(p *Profile) error {
	if p.Name == "" {
		return errors.New("profile name is required")
	}
	if _, err := policy.Compile(&policy.Config{Deny: p.Deny, Allow: p.Allow}); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	return nil
}
