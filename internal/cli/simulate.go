package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/sim"
)

// errNewlyBlocked signals --fail-on-block that the policy would deny
// invocations the recorded one did not.
var errNewlyBlocked = errors.New("policy blocks previously permitted invocations")

var (
	simLog         string
	simSession     string
	simTool        string
	simFrom        string
	simTo          string
	simFormat      string
	simFailOnBlock bool
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	f := simulateCmd.Flags()
	f.StringVarP(&simLog, "log", "l", "", "Audit log to replay, JSONL or SQLite (default: the policy's audit.path)")
	f.StringVar(&simSession, "session", "", "Only replay this session")
	f.StringVar(&simTool, "tool", "", "Only replay this tool")
	f.StringVar(&simFrom, "from", "", "Only replay records after this time (RFC3339 or duration ago)")
	f.StringVar(&simTo, "to", "", "Only replay records before this time")
	f.StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
	f.BoolVar(&simFailOnBlock, "fail-on-block", false, "Exit 1 when any invocation becomes denied")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay an audit log against a policy and show decision changes",
	Long: "Re-evaluates each recorded invocation against the policy given by\n" +
		"--policy and lists the ones whose decision would change.\n\n" +
		"Only recorded invocations are replayed: a log written at level matched\n" +
		"has no passthrough history. With --fail-on-block the command doubles as\n" +
		"a CI gate for policy changes.",
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logPath := simLog
	if logPath == "" {
		var err error
		if logPath, err = auditPath(nil); err != nil {
			return err
		}
	}
	filter, err := withWindow(audit.ReplayFilter{SessionID: simSession, Tool: simTool}, simFrom, simTo)
	if err != nil {
		return err
	}

	result, err := sim.SimulateFile(logPath, policyPath(), filter)
	if err != nil {
		return err
	}
	logger.Debug("simulation finished", "log", logPath, "replayed", result.TotalActions, "changed", result.ChangedActions)

	out := cmd.OutOrStdout()
	if simFormat == "json" {
		data, err := sim.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, data)
	} else {
		fmt.Fprint(out, sim.FormatText(result))
	}

	if simFailOnBlock && result.NewlyBlocked > 0 {
		return errNewlyBlocked
	}
	return nil
}
