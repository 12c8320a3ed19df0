package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/profile"
)

var profileInitOutput string

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileInitCmd)
	profileInitCmd.Flags().StringVarP(&profileInitOutput, "output", "o", "", "Output path (default: ~/.toolgate/profiles/<name>.yaml)")
}

var profileCmd = &cobra.Command{
	Use:     "profiles",
	Aliases: []string{"profile"},
	Short:   "Manage rule profiles",
	Long: "List, inspect and create rule profiles. A policy enables profiles with\n" +
		"`profiles: [name, ...]`; their rules are appended after the policy's own.",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfileList,
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Validate a profile and print its compiled rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

var profileInitCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Generate a starter profile template",
	Long:  "Creates a commented YAML profile template in ~/.toolgate/profiles.",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileInit,
}

func runProfileList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	names := profile.List()
	if len(names) == 0 {
		fmt.Fprintln(out, "No profiles available.")
		return nil
	}

	fmt.Fprintln(out, "Available profiles:")
	for _, name := range names {
		p, err := profile.Load(name)
		if err != nil {
			fmt.Fprintf(out, "  %-18s (error loading: %v)\n", name, err)
			continue
		}
		kind := "user"
		if profile.IsBuiltin(name) {
			kind = "built-in"
		}
		fmt.Fprintf(out, "  %-18s %-9s %s\n", name, kind, p.Description)
	}
	return nil
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	name := args[0]
	p, err := profile.Load(name)
	if err != nil {
		return fmt.Errorf("failed to load profile %q: %w", name, err)
	}
	if err := profile.Validate(p); err != nil {
		return fmt.Errorf("profile %q is invalid: %w", name, err)
	}

	// Expand through the same path a policy takes, so ids are shown
	// exactly as they appear in decisions.
	cfg, err := profile.ApplyToPolicy(&policy.Config{Profiles: []string{name}})
	if err != nil {
		return err
	}
	rs, err := policy.Compile(cfg)
	if err != nil {
		return fmt.Errorf("profile %q does not compile: %w", name, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Profile: %s (%s)\n\n", p.Name, p.Description)
	for _, v := range rs.Views() {
		fmt.Fprintf(out, "  %-6s %-32s %s", v.Effect, v.ID, v.Tool)
		for _, f := range v.Fields {
			fmt.Fprintf(out, " %s~%s", f.Name, f.Include)
			if f.Exclude != "" {
				fmt.Fprintf(out, "!%s", f.Exclude)
			}
		}
		if v.Description != "" {
			fmt.Fprintf(out, "  # %s", v.Description)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "\nTo enable, add to your policy:")
	fmt.Fprintf(out, "  profiles: [%s]\n", name)
	return nil
}

func runProfileInit(cmd *cobra.Command, args []string) error {
	name := args[0]
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid profile name %q", name)
	}

	outPath := profileInitOutput
	if outPath == "" {
		outPath = filepath.Join(profile.Dir(), name+".yaml")
	}

	// Refuse to overwrite existing files
	if _, err := os.Stat(outPath); err == nil {
		return fmt.Errorf("file already exists: %s (remove it first or use --output)", outPath)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	content := profile.InitProfile(name)
	if err := os.WriteFile(outPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created profile template: %s\n", outPath)
	fmt.Fprintf(out, "Edit it, then inspect with: toolgate profiles show %s\n", name)
	return nil
}
