package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/policy"
)

var (
	validateStrict bool
	validateFormat string
)

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Fail when a rule is shadowed by an earlier rule")
	validateCmd.Flags().StringVarP(&validateFormat, "format", "f", "text", "Output format (text|json)")
}

var validateCmd = &cobra.Command{
	Use:   "validate [policy]",
	Short: "Compile a policy and report errors",
	Long: "Loads and compiles a policy file, profiles included. Any invalid rule fails\n" +
		"the whole policy. With --strict, rules that can never decide because an\n" +
		"earlier rule always matches first are reported and fail validation.",
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

type validateReport struct {
	Source   string          `json:"source"`
	Hash     string          `json:"hash"`
	Deny     int             `json:"deny"`
	Allow    int             `json:"allow"`
	Audit    string          `json:"audit_level"`
	Shadowed []policy.Shadow `json:"shadowed,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := policyPath()
	if len(args) == 1 {
		path = args[0]
	}

	rs, err := gate.LoadRuleSet(path)
	if err != nil {
		return err
	}

	report := validateReport{
		Source:   rs.Source(),
		Hash:     rs.Hash(),
		Deny:     len(rs.DenyRules()),
		Allow:    len(rs.AllowRules()),
		Audit:    string(rs.Audit().Level),
		Shadowed: rs.Shadowed(),
	}
	if report.Source == "" {
		report.Source = "(default, not present)"
	}

	out := cmd.OutOrStdout()
	switch validateFormat {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	default:
		fmt.Fprintf(out, "OK: %s\n", report.Source)
		fmt.Fprintf(out, "  deny rules:   %d\n", report.Deny)
		fmt.Fprintf(out, "  allow rules:  %d\n", report.Allow)
		fmt.Fprintf(out, "  audit level:  %s\n", report.Audit)
		fmt.Fprintf(out, "  hash:         %s\n", report.Hash)
		for _, s := range report.Shadowed {
			fmt.Fprintf(out, "WARN: rule %s is shadowed by %s (%s)\n", s.Rule.ID, s.By.ID, s.Why)
		}
	}

	if validateStrict && len(report.Shadowed) > 0 {
		return fmt.Errorf("%d shadowed rule(s)", len(report.Shadowed))
	}
	return nil
}
