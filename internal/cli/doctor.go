package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/client"
	"github.com/ppiankov/toolgate/internal/config"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/profile"
)

var doctorServer string

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorServer, "server", "", "Also check a toolgate server at host:port")
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check readiness and diagnose configuration issues",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult

	// 1. Binary location and version.
	execPath, _ := os.Executable()
	checks = append(checks, checkResult{
		label:  "toolgate binary",
		ok:     execPath != "",
		detail: fmt.Sprintf("%s (v%s)", execPath, version),
	})

	// 2. Settings file is optional.
	if _, err := os.Stat(config.Path()); err == nil {
		checks = append(checks, checkResult{label: "settings", ok: true, detail: config.Path()})
	} else {
		checks = append(checks, checkResult{label: "settings", ok: true, detail: "defaults (no " + config.Path() + ")"})
	}

	// 3. Policy compiles.
	path := policyFile()
	rs, err := gate.LoadRuleSet(policyPath())
	switch {
	case err != nil:
		checks = append(checks, checkResult{
			label:  "policy",
			detail: err.Error(),
			fix:    "toolgate validate",
		})
	case rs.Source() == "":
		checks = append(checks, checkResult{
			label:  "policy",
			detail: path + " missing, every call passes through",
			fix:    "toolgate init-policy",
		})
	default:
		checks = append(checks, checkResult{
			label:  "policy",
			ok:     true,
			detail: fmt.Sprintf("%s (%d deny, %d allow)", path, len(rs.DenyRules()), len(rs.AllowRules())),
		})
	}

	// 4. Audit sink opens.
	if rs != nil {
		checks = append(checks, checkAudit(rs.Audit()))
	}

	// 5. Profiles.
	checks = append(checks, checkResult{
		label:  "profiles",
		ok:     true,
		detail: fmt.Sprintf("%d available (user dir %s)", len(profile.List()), profile.Dir()),
	})

	// 6. Server, when asked.
	if doctorServer != "" {
		checks = append(checks, checkServer(cmd.Context(), doctorServer))
	}

	out := cmd.OutOrStdout()
	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-16s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(out, line)
	}

	if hasFailures {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

func checkAudit(s audit.Settings) checkResult {
	if s.Level == audit.LevelOff {
		return checkResult{label: "audit", ok: true, detail: "off"}
	}
	sink, err := audit.OpenSink(s)
	if err != nil {
		return checkResult{label: "audit", detail: err.Error(), fix: "check audit.path permissions"}
	}
	sink.Close()
	return checkResult{
		label:  "audit",
		ok:     true,
		detail: fmt.Sprintf("%s, %s %s", s.Level, s.Format, s.Path),
	}
}

func checkServer(ctx context.Context, addr string) checkResult {
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := client.New(addr)
	if err != nil {
		return checkResult{label: "server", detail: err.Error()}
	}
	defer c.Close()

	resp, err := c.ListRules(ctx)
	if err != nil {
		return checkResult{label: "server", detail: err.Error(), fix: "toolgate serve"}
	}
	return checkResult{
		label:  "server",
		ok:     true,
		detail: fmt.Sprintf("%s (%d rules, %s)", addr, len(resp.Rules), resp.PolicyHash),
	}
}
