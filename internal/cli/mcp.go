package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	toolmcp "github.com/ppiankov/toolgate/internal/mcp"
	"github.com/ppiankov/toolgate/internal/profile"
	"github.com/ppiankov/toolgate/internal/server"
)

var mcpWatch bool

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().BoolVar(&mcpWatch, "watch", false, "Reload the policy when it or a user profile changes")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve policy checks to agents over MCP (stdio)",
	Long: "Runs toolgate as a Model Context Protocol server on stdin/stdout.\n\n" +
		"Tools:\n" +
		"  toolgate_check     dry-run decision for a tool call\n" +
		"  toolgate_rules     compiled rules in evaluation order\n" +
		"  toolgate_validate  compile a policy document without installing it\n\n" +
		"Nothing is audited. Diagnostics go to stderr.",
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	srv, err := toolmcp.New(toolmcp.Config{
		PolicyPath: policyPath(),
		Version:    version,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mcpWatch {
		r, err := server.NewReloader(srv.Reload, []string{policyFile(), profile.Dir()}, logger)
		if err != nil {
			logger.Warn("policy watch disabled", "error", err)
		} else {
			go r.Run(ctx)
		}
	}

	logger.Info("mcp server running on stdio", "policy", policyFile(), "watch", mcpWatch)
	return srv.Run(ctx)
}
