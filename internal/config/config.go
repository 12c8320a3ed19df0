// Package config resolves process settings from flags, TOOLGATE_* environment
// variables and an optional ~/.toolgate/config.yaml. Policy content lives in
// the policy file, not here.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TOOLGATE_POLICY.
const EnvPrefix = "TOOLGATE"

// Settings is the resolved process configuration.
type Settings struct {
	Policy string       `mapstructure:"policy"`
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
}

// LogConfig controls the diagnostic logger on stderr.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig controls `toolgate serve` and `toolgate run --server`.
type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	Reload      bool   `mapstructure:"reload"`
}

// Dir returns ~/.toolgate.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".toolgate"
	}
	return filepath.Join(home, ".toolgate")
}

// Path returns the settings file location. TOOLGATE_CONFIG overrides it.
func Path() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

// New returns a viper instance with defaults and environment binding set up.
// Callers bind their cobra flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("policy", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.addr", "127.0.0.1:7431")
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("server.reload", true)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional settings file into v and decodes the result.
// Precedence is flag, then environment, then file, then default.
func Load(v *viper.Viper) (*Settings, error) {
	path := Path()
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat settings %s: %w", path, err)
	}

	var s Settings
	if err := v.Unmarshal(&s, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.ErrorUnused = false
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}
	return &s, nil
}

// Validate checks enumerated values.
func (s *Settings) Validate() error {
	if _, err := ParseLogLevel(s.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(s.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", s.Log.Format)
	}
	if s.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	return nil
}
