package policy

import (
	"testing"

	"github.com/ppiankov/toolgate/internal/model"
)

func mustCompileYAML(t testing.TB, src string) *RuleSet {
	t.Helper()
	cfg, err := Parse([]byte(src), FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rs, err := Compile(cfg)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return rs
}

func compileYAML(t testing.TB, src string) error {
	t.Helper()
	cfg, err := Parse([]byte(src), FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = Compile(cfg)
	return err
}

func bash(cmd string) model.Invocation {
	return model.Invocation{ToolName: "Bash", Fields: map[string]string{"command": cmd}}
}

func read(path string) model.Invocation {
	return model.Invocation{ToolName: "Read", Fields: map[string]string{"file_path": path}}
}
