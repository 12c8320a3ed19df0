package cli

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/extract"
)

// version is overridden at build time with -ldflags "-X ...cli.version=...".
var version = "0.3.0"

var versionFormat string

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and field schema information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if versionFormat != "json" {
			fmt.Fprintf(out, "toolgate %s (%s, field schema v%d)\n", version, runtime.Version(), extract.SchemaVersion)
			return nil
		}
		data, err := json.MarshalIndent(map[string]string{
			"name":           "toolgate",
			"version":        version,
			"go":             runtime.Version(),
			"schema_version": strconv.Itoa(extract.SchemaVersion),
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	},
}
