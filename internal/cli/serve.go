package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/metrics"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/profile"
	"github.com/ppiankov/toolgate/internal/server"
)

var (
	serveAddr        string
	serveMetricsAddr string
	serveReload      bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:7431", "gRPC listen address")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Prometheus /metrics listen address (disabled when empty)")
	serveCmd.Flags().BoolVar(&serveReload, "reload", true, "Reload the policy when it or a user profile changes")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC policy server",
	Long: "Runs toolgate as a long-lived policy server over gRPC. Hooks delegate to it\n" +
		"with `toolgate run --server`. The server owns the audit sink, sends alert\n" +
		"webhooks, prunes SQLite audit records on the policy's prune_schedule, and\n" +
		"hot-reloads the policy file and user profiles.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	srv, err := server.New(server.Config{
		Addr:        settings.Server.Addr,
		MetricsAddr: settings.Server.MetricsAddr,
		PolicyPath:  policyPath(),
		Logger:      logger,
		Metrics:     metrics.New(nil),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if settings.Server.Reload {
		watchPaths := []string{policyFile(), profile.Dir()}
		reloader, err := server.NewReloader(srv.ReloadPolicy, watchPaths, logger)
		if err != nil {
			logger.Warn("hot-reload disabled", "error", err)
		} else {
			go reloader.Run(ctx)
		}
	}

	stopRetention, err := startRetention(ctx, srv.Gate().RuleSet().Audit())
	if err != nil {
		return err
	}
	defer stopRetention()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nShutting down policy server...")
			cancel()
			srv.GracefulStop()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(os.Stderr, "toolgate policy server listening on %s\n", settings.Server.Addr)
	if settings.Server.MetricsAddr != "" {
		fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", settings.Server.MetricsAddr)
	}
	fmt.Fprintf(os.Stderr, "Policy: %s\n\n", policyFile())

	return srv.Serve()
}

// policyFile is the policy path with the default filled in, for watching
// and display.
func policyFile() string {
	if p := policyPath(); p != "" {
		return p
	}
	return policy.DefaultPath()
}

// startRetention schedules pruning of a SQLite audit database. Retention
// settings are read once at startup; a reload does not reschedule.
func startRetention(ctx context.Context, s audit.Settings) (func(), error) {
	noop := func() {}
	if s.Format != audit.FormatSQLite || s.RetentionDays <= 0 || s.PruneSchedule == "" {
		return noop, nil
	}

	sink, err := audit.OpenSQLite(s.Path)
	if err != nil {
		return noop, fmt.Errorf("failed to open audit database for retention: %w", err)
	}
	pruner, err := audit.NewPruner(sink, s.RetentionDays)
	if err != nil {
		sink.Close()
		return noop, err
	}
	sched := audit.NewScheduler(pruner, s.PruneSchedule)
	if err := sched.Start(ctx); err != nil {
		sink.Close()
		return noop, err
	}
	return func() {
		sched.Stop()
		sink.Close()
	}, nil
}
