package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/extract"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

var (
	evalInput   string
	evalFields  []string
	evalExplain bool
	evalFormat  string
)

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVarP(&evalInput, "input", "i", "", "Tool input as a JSON object")
	evalCmd.Flags().StringArrayVar(&evalFields, "field", nil, "Field value as name=value (repeatable, overrides --input)")
	evalCmd.Flags().BoolVar(&evalExplain, "explain", false, "Show how every rule was evaluated")
	evalCmd.Flags().StringVarP(&evalFormat, "format", "f", "text", "Output format (text|json)")
}

var evalCmd = &cobra.Command{
	Use:   "eval <tool>",
	Short: "Evaluate one invocation without auditing it",
	Long: "Builds an invocation from --input and --field, evaluates it against the\n" +
		"policy, and prints the decision. Nothing is audited.\n\n" +
		"Example:\n" +
		"  toolgate eval Bash --field command='rm -rf /' --explain",
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func runEval(cmd *cobra.Command, args []string) error {
	inv, err := buildInvocation(args[0], evalInput, evalFields)
	if err != nil {
		return err
	}

	rs, err := gate.LoadRuleSet(policyPath())
	if err != nil {
		return err
	}
	exp := rs.Explain(inv)

	out := cmd.OutOrStdout()
	if evalFormat == "json" {
		var v any = exp.Decision
		if evalExplain {
			v = exp
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	printDecision(out, inv, exp.Decision)
	if evalExplain {
		printTraces(out, exp.Traces)
	}
	return nil
}

// buildInvocation extracts fields from a JSON tool input, then applies
// name=value overrides. Unknown field names are rejected so a typo cannot
// silently pass through.
func buildInvocation(tool, input string, fields []string) (model.Invocation, error) {
	inv := model.Invocation{ToolName: tool, Fields: map[string]string{}}
	if input != "" {
		if !json.Valid([]byte(input)) {
			return inv, fmt.Errorf("--input is not valid JSON")
		}
		inv.Fields = extract.Extract(tool, json.RawMessage(input))
	}
	for _, kv := range fields {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return inv, fmt.Errorf("--field %q: want name=value", kv)
		}
		if !extract.HasField(tool, name) {
			return inv, fmt.Errorf("--field %q: %s has no field %s", kv, tool, name)
		}
		inv.Fields[name] = value
	}
	return inv, nil
}

func printDecision(w io.Writer, inv model.Invocation, d model.Decision) {
	fmt.Fprintf(w, "%s  %s", strings.ToUpper(string(d.Outcome)), inv.ToolName)
	if s := extract.Subject(inv.Fields); s != "" {
		fmt.Fprintf(w, "  %s", s)
	}
	fmt.Fprintln(w)
	if d.Rule != nil {
		fmt.Fprintf(w, "  rule:    %s\n", d.Rule)
	}
	if d.Reason != "" {
		fmt.Fprintf(w, "  reason:  %s\n", d.Reason)
	}
}

func printTraces(w io.Writer, traces []policy.Trace) {
	if len(traces) == 0 {
		fmt.Fprintln(w, "\n  (no rules)")
		return
	}
	fmt.Fprintln(w)
	for _, t := range traces {
		mark := " "
		switch {
		case t.Matched && !t.Skipped:
			mark = "*"
		case t.Matched:
			mark = "~"
		}
		detail := t.Detail
		if t.Skipped && t.Matched {
			detail = "would match, already decided"
		} else if t.Skipped {
			detail += " (after decision)"
		}
		fmt.Fprintf(w, "  %s %-6s %-24s %s\n", mark, t.Rule.Effect, t.Rule.ID, detail)
	}
}
