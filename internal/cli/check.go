package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mensbeam/Fork/internal/cliutil"
)

func newCheckCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the task manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tasks OK\n", *ctx.manifestPath, len(cfg.Tasks))
			for _, task := range cfg.Tasks {
				line := fmt.Sprintf("  %s: %s", task.Name, strings.Join(task.Command, " "))
				if env := cliutil.FormatEnv(task.Env); env != "" {
					line += " [" + env + "]"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	return cmd
}
