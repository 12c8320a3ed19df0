package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/gate"
)

var (
	tailLines  int
	tailFollow bool
	tailJSON   bool

	replaySession  string
	replayTool     string
	replayDecision string
	replayFrom     string
	replayTo       string
	replayFormat   string

	pruneDays int
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditCmd.AddCommand(auditPruneCmd)

	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().BoolVarP(&tailFollow, "follow", "F", false, "Keep printing entries as they are appended")
	auditTailCmd.Flags().BoolVar(&tailJSON, "json", false, "Print raw records as JSON")

	auditReplayCmd.Flags().StringVar(&replaySession, "session", "", "Session ID filter")
	auditReplayCmd.Flags().StringVar(&replayTool, "tool", "", "Tool name filter")
	auditReplayCmd.Flags().StringVar(&replayDecision, "decision", "", "Decision filter (allow|deny|passthrough)")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339 or duration ago, e.g. 24h)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339 or duration ago)")
	auditReplayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")

	auditPruneCmd.Flags().IntVar(&pruneDays, "days", 0, "Retention in days (default: policy audit.retention_days)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long: "Commands for verifying and inspecting the audit log. The log path defaults\n" +
		"to the policy's audit.path.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of a JSONL audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Long:  "Prints the last N entries of the JSONL audit log as a timeline.\nWith --follow, keeps printing new entries until interrupted.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay [path]",
	Short: "Replay recorded decisions as a timeline",
	Long:  "Reads the audit log (JSONL or SQLite), applies the filters, and renders\na decision timeline with a summary.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditReplay,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete SQLite audit records older than the retention period",
	Long:  "Deletes records older than retention_days from the policy's SQLite audit\ndatabase. JSONL logs are hash-chained and cannot be pruned.",
	Args:  cobra.NoArgs,
	RunE:  runAuditPrune,
}

// auditSettings returns the audit section of the active policy.
func auditSettings() (audit.Settings, error) {
	rs, err := gate.LoadRuleSet(policyPath())
	if err != nil {
		return audit.Settings{}, err
	}
	return rs.Audit(), nil
}

// auditPath picks the explicit path argument, else the policy's audit path.
func auditPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	s, err := auditSettings()
	if err != nil {
		return "", err
	}
	if s.Path == "" {
		return audit.DefaultPath(), nil
	}
	return s.Path, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "OK: %d entries verified\n", result.Lines)
		if result.Lines > 0 {
			fmt.Fprintf(out, "  deny: %d  allow: %d  passthrough: %d\n",
				result.Decisions["deny"], result.Decisions["allow"], result.Decisions["passthrough"])
			fmt.Fprintf(out, "  policy versions: %d\n", result.Policies)
			fmt.Fprintf(out, "  span: %s \u2192 %s\n", result.First, result.Last)
		}
		return nil
	}
	if result.ErrorLine > 0 {
		return fmt.Errorf("FAILED at line %d: %s", result.ErrorLine, result.Error)
	}
	return fmt.Errorf("FAILED: %s", result.Error)
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	return audit.Tail(ctx, path, tailLines, tailFollow, func(rec audit.Record) {
		if tailJSON {
			data, _ := json.Marshal(rec)
			fmt.Fprintln(out, string(data))
			return
		}
		fmt.Fprint(out, audit.FormatLine(rec))
	})
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}

	filter, err := withWindow(audit.ReplayFilter{
		SessionID: replaySession,
		Tool:      replayTool,
		Decision:  replayDecision,
	}, replayFrom, replayTo)
	if err != nil {
		return err
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch replayFormat {
	case "json":
		data, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, data)
	default:
		fmt.Fprint(out, audit.FormatTimeline(result))
	}
	return nil
}

func runAuditPrune(cmd *cobra.Command, args []string) error {
	s, err := auditSettings()
	if err != nil {
		return err
	}
	if s.Format != audit.FormatSQLite {
		return fmt.Errorf("audit format %q: %w", s.Format, audit.ErrNotPrunable)
	}
	days := s.RetentionDays
	if pruneDays > 0 {
		days = pruneDays
	}
	if days <= 0 {
		return fmt.Errorf("no retention configured: set audit.retention_days or pass --days")
	}

	sink, err := audit.OpenSQLite(s.Path)
	if err != nil {
		return err
	}
	defer sink.Close()

	pruner, err := audit.NewPruner(sink, days)
	if err != nil {
		return err
	}
	deleted, err := pruner.Prune(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d record(s) older than %d days from %s\n", deleted, days, s.Path)
	return nil
}
