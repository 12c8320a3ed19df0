package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/client"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/hook"
	"github.com/ppiankov/toolgate/internal/model"
)

var (
	runServer  string
	runTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runServer, "server", "", "Delegate evaluation to a toolgate server at host:port")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 2*time.Second, "Server call timeout (with --server)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Decide one hook request from stdin",
	Long: "Reads a PreToolUse or PermissionRequest hook payload from stdin, evaluates\n" +
		"it against the policy, and writes the hook decision to stdout.\n\n" +
		"A passthrough writes nothing, so the host falls back to its own prompt.\n" +
		"Exits 1 on a policy or request error.",
	Args: cobra.NoArgs,
	RunE: runHook,
}

func runHook(cmd *cobra.Command, args []string) error {
	req, err := hook.ReadRequest(cmd.InOrStdin())
	if err != nil {
		return err
	}

	var d model.Decision
	if runServer != "" {
		d, err = decideRemote(req)
	} else {
		d, err = decideLocal(req)
	}
	if err != nil {
		return err
	}

	logger.Debug("hook decision",
		"tool", req.ToolName,
		"event", req.Event(),
		"decision", d.Outcome,
		"rule_id", d.RuleID(),
	)
	return hook.WriteDecision(cmd.OutOrStdout(), req.Event(), d)
}

func decideLocal(req *hook.Request) (model.Decision, error) {
	g, err := gate.New(gate.Config{PolicyPath: policyPath(), Logger: logger})
	if err != nil {
		return model.Decision{}, err
	}
	defer g.Close()
	return g.DecideRequest(req), nil
}

// decideRemote asks the server. The client fails closed, so an unreachable
// server yields a deny rather than an error.
func decideRemote(req *hook.Request) (model.Decision, error) {
	c, err := client.New(runServer)
	if err != nil {
		return model.Decision{}, fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()
	c.SetTimeout(runTimeout)

	return c.Evaluate(context.Background(), req.ToolName, req.ToolInput, req.SessionID, req.Cwd), nil
}
