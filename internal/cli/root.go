package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/config"
)

var (
	rootPolicy    string
	rootLogLevel  string
	rootLogFormat string

	// settings and logger are resolved once per invocation in
	// PersistentPreRunE and read by every subcommand.
	settings *config.Settings
	logger   = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

// flagBindings maps settings keys to the flag names that override them.
// A command binds only the flags it defines.
var flagBindings = map[string]string{
	"policy":              "policy",
	"log.level":           "log-level",
	"log.format":          "log-format",
	"server.addr":         "addr",
	"server.metrics_addr": "metrics-addr",
	"server.reload":       "reload",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootPolicy, "policy", "p", "", "Path to policy file (default ~/.toolgate/policy.yaml)")
	pf.StringVar(&rootLogLevel, "log-level", "warn", "Diagnostic log level (debug|info|warn|error)")
	pf.StringVar(&rootLogFormat, "log-format", "text", "Diagnostic log format (text|json)")
}

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Rule engine for coding-agent tool calls",
	Long: "Decides whether a coding agent's tool invocation is allowed, denied, or left\n" +
		"to the host's own permission flow. Rules are regex constraints on the fields\n" +
		"of each tool's input; deny rules win over allow rules.",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func loadSettings(cmd *cobra.Command, args []string) error {
	v := config.New()
	for key, name := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	s, err := config.Load(v)
	if err != nil {
		return err
	}
	l, err := config.NewLogger(cmd.ErrOrStderr(), s.Log)
	if err != nil {
		return err
	}
	settings = s
	logger = l
	slog.SetDefault(l)
	return nil
}

// policyPath is the resolved policy file; empty means the default path.
func policyPath() string {
	if settings == nil {
		return rootPolicy
	}
	return settings.Policy
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
