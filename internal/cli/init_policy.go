package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/profile"
)

var (
	initPolicyForce  bool
	initPolicyFormat string
)

func init() {
	rootCmd.AddCommand(initPolicyCmd)
	initPolicyCmd.Flags().BoolVar(&initPolicyForce, "force", false, "Overwrite an existing policy file")
	initPolicyCmd.Flags().StringVar(&initPolicyFormat, "format", "", "Policy format (yaml|toml|json); defaults to the file extension")
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy",
	Short: "Generate a starter policy",
	Long: "Writes a starter policy to --policy, or ~/.toolgate/policy.yaml.\n" +
		"YAML output is commented; TOML and JSON carry the same rules without\n" +
		"comments. Edit it, then check it with `toolgate validate`.",
	Args: cobra.NoArgs,
	RunE: runInitPolicy,
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	path := policyFile()
	format := initPolicyFormat
	if format == "" {
		format = policy.FormatFor(path)
	}

	content, err := starterPolicy(format)
	if err != nil {
		return err
	}

	if !initPolicyForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("policy already exists at %s (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := writeFileAtomic(path, content); err != nil {
		return err
	}

	logger.Debug("starter policy written", "path", path, "format", format)
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}

// starterPolicy renders the default policy in format and checks that the
// result compiles.
func starterPolicy(format string) ([]byte, error) {
	src := []byte(policy.DefaultConfigYAML())
	cfg, err := policy.Parse(src, policy.FormatYAML)
	if err != nil {
		return nil, fmt.Errorf("starter policy: %w", err)
	}
	expanded, err := profile.ApplyToPolicy(cfg)
	if err != nil {
		return nil, fmt.Errorf("starter policy: %w", err)
	}
	if _, err := policy.Compile(expanded); err != nil {
		return nil, fmt.Errorf("starter policy: %w", err)
	}
	switch format {
	case policy.FormatYAML:
		return src, nil
	case policy.FormatTOML, policy.FormatJSON:
		return policy.Marshal(cfg, format)
	default:
		return nil, fmt.Errorf("unknown policy format %q (use yaml, toml or json)", format)
	}
}

// writeFileAtomic replaces path with data through a temp file in the same
// directory, so a watching server never reads a half-written policy.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".policy-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write policy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
