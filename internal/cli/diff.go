package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/policydiff"
)

var (
	diffFormat   string
	diffExitCode bool
)

// errPoliciesDiffer signals --exit-code that the policies are not equivalent.
var errPoliciesDiffer = errors.New("policies differ")

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text|json)")
	diffCmd.Flags().BoolVar(&diffExitCode, "exit-code", false, "Exit non-zero when the policies differ")
}

var diffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Show how two policies differ",
	Long: `Compiles both policies, profiles included, and reports changes to audit
settings and alerts, plus every rule added, removed, changed or moved.
Rules are paired by what they match, so renaming or reordering a rule is
reported as such rather than as a removal and an addition.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	result, err := policydiff.LoadAndDiff(args[0], args[1])
	if err != nil {
		return err
	}

	if diffFormat == "json" {
		data, err := policydiff.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), data)
	} else {
		fmt.Fprint(cmd.OutOrStdout(), policydiff.FormatText(result))
	}

	if diffExitCode && result.HasChanges {
		return errPoliciesDiffer
	}
	return nil
}
