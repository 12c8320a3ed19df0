package policy

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ppiankov/toolgate/internal/model"
)

func benchRuleSet(b *testing.B, n int) *RuleSet {
	b.Helper()
	var sb strings.Builder
	sb.WriteString("deny:\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "  - tool: Bash\n    command_regex: '^nomatch%d '\n", i)
	}
	sb.WriteString("allow:\n  - tool: Bash\n    command_regex: '^cargo '\n")
	return mustCompileYAML(b, sb.String())
}

func BenchmarkEvaluate_AllowSimple(b *testing.B) {
	rs := benchRuleSet(b, 1)
	inv := bash("cargo build")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rs.Evaluate(inv)
	}
}

func BenchmarkEvaluate_DenyTraversal50(b *testing.B) {
	rs := benchRuleSet(b, 50)
	inv := bash("cargo build --release")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rs.Evaluate(inv)
	}
}

func BenchmarkEvaluate_OtherTool(b *testing.B) {
	rs := benchRuleSet(b, 50)
	inv := model.Invocation{ToolName: "Read", Fields: map[string]string{"file_path": "/etc/passwd"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rs.Evaluate(inv)
	}
}

func BenchmarkCompile50(b *testing.B) {
	var sb strings.Builder
	sb.WriteString("deny:\n")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&sb, "  - tool: Bash\n    command_regex: '^cmd%d (a|b|c)+$'\n", i)
	}
	cfg, err := Parse([]byte(sb.String()), FormatYAML)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Compile(cfg); err != nil {
			b.Fatal(err)
		}
	}
}
