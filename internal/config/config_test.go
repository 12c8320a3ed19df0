package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TOOLGATE_CONFIG", "")
	return home
}

func TestDefaults(t *testing.T) {
	isolate(t)

	s, err := Load(New())
	if err != nil {
		t.Fatal(err)
	}
	if s.Policy != "" {
		t.Errorf("expected empty policy path, got %q", s.Policy)
	}
	if s.Log.Level != "warn" || s.Log.Format != "text" {
		t.Errorf("unexpected log defaults: %+v", s.Log)
	}
	if s.Server.Addr != "127.0.0.1:7431" || !s.Server.Reload {
		t.Errorf("unexpected server defaults: %+v", s.Server)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("TOOLGATE_POLICY", "/etc/toolgate/policy.yaml")
	t.Setenv("TOOLGATE_LOG_LEVEL", "debug")
	t.Setenv("TOOLGATE_SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("TOOLGATE_SERVER_RELOAD", "false")

	s, err := Load(New())
	if err != nil {
		t.Fatal(err)
	}
	if s.Policy != "/etc/toolgate/policy.yaml" {
		t.Errorf("expected policy from env, got %q", s.Policy)
	}
	if s.Log.Level != "debug" || s.Server.Addr != "127.0.0.1:9000" || s.Server.Reload {
		t.Errorf("env overrides not applied: %+v", s)
	}
}

func TestSettingsFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".toolgate")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	body := "policy: /srv/policy.toml\nlog:\n  level: info\n  format: json\nserver:\n  metrics_addr: 127.0.0.1:9090\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOOLGATE_LOG_LEVEL", "error")

	s, err := Load(New())
	if err != nil {
		t.Fatal(err)
	}
	if s.Policy != "/srv/policy.toml" || s.Log.Format != "json" || s.Server.MetricsAddr != "127.0.0.1:9090" {
		t.Errorf("file settings not applied: %+v", s)
	}
	if s.Log.Level != "error" {
		t.Errorf("env must beat file, got level %q", s.Log.Level)
	}
}

func TestExplicitSettingsPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOOLGATE_CONFIG", path)

	s, err := Load(New())
	if err != nil {
		t.Fatal(err)
	}
	if s.Log.Level != "debug" {
		t.Errorf("expected level from TOOLGATE_CONFIG file, got %q", s.Log.Level)
	}
}

func TestInvalidSettings(t *testing.T) {
	isolate(t)
	t.Setenv("TOOLGATE_LOG_LEVEL", "verbose")
	if _, err := Load(New()); err == nil {
		t.Error("expected error for unknown log level")
	}

	t.Setenv("TOOLGATE_LOG_LEVEL", "info")
	t.Setenv("TOOLGATE_LOG_FORMAT", "xml")
	if _, err := Load(New()); err == nil {
		t.Error("expected error for unknown log format")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, LogConfig{Level: "info", Format: "json"})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hidden")
	logger.With("component", "test").Info("shown", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "shown" || entry["component"] != "test" || entry["k"] != "v" {
		t.Errorf("unexpected entry: %v", entry)
	}

	if _, err := NewLogger(&buf, LogConfig{Level: "loud"}); err == nil {
		t.Error("expected error for bad level")
	}
}
