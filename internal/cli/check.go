package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/scenario"
)

var (
	checkScenarios []string
	checkFormat    string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringArrayVar(&checkScenarios, "scenario", nil, "Glob of scenario YAML files (repeatable)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
}

var checkCmd = &cobra.Command{
	Use:   "check [glob...]",
	Short: "Assert expected decisions from scenario files",
	Long: `Runs every case in the matching scenario files against the active policy
and compares the decision (and, when pinned, the deciding rule) with the
expectation. Globs may be given as arguments or with --scenario.

Exits non-zero when any case fails, so it can gate policy changes in CI.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	files, err := scenarioFiles(append(append([]string(nil), checkScenarios...), args...))
	if err != nil {
		return err
	}

	results := make([]*scenario.RunResult, 0, len(files))
	failed := 0
	for _, path := range files {
		r, err := scenario.LoadAndRun(path, policyPath())
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		logger.Debug("scenario evaluated", "file", path, "passed", r.Passed, "failed", r.Failed)
		failed += r.Failed
		results = append(results, r)
	}

	out := cmd.OutOrStdout()
	if checkFormat == "json" {
		data, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, data)
	} else {
		fmt.Fprint(out, scenario.FormatText(results))
	}

	if failed > 0 {
		return fmt.Errorf("%d scenario case(s) failed", failed)
	}
	return nil
}

// scenarioFiles expands globs into a sorted, de-duplicated file list.
func scenarioFiles(globs []string) ([]string, error) {
	if len(globs) == 0 {
		return nil, errors.New("no scenarios given: pass a glob or --scenario")
	}
	seen := make(map[string]bool)
	var files []string
	for _, g := range globs {
		matches, err := filepath.Glob(g)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", g, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no scenario files match %s", g)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
