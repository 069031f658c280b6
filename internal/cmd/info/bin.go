package info

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/turbocache/turbo/internal/cmdutil"
)

// BinCmd returns the "bin" subcommand, which prints the path to the
// currently-executing turbo binary.
func BinCmd(helper *cmdutil.Helper) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "bin",
		Short:        "Get the path to the Turbo binary",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(cmd.Root().Flags())
			if err != nil {
				return err
			}
			path, err := os.Executable()
			if err != nil {
				base.LogError("could not get path to turbo binary: %w", err)
				return err
			}
			base.UI.Output(path)
			return nil
		},
	}
	return cmd
}
