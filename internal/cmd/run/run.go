// Package run wires the cobra "run" subcommand to the task-execution engine
// in internal/run.
package run

import (
	"github.com/spf13/cobra"

	"github.com/turbocache/turbo/internal/cmdutil"
	"github.com/turbocache/turbo/internal/config"
	"github.com/turbocache/turbo/internal/process"
	"github.com/turbocache/turbo/internal/run"
	"github.com/turbocache/turbo/internal/signals"
	"github.com/turbocache/turbo/internal/ui"
)

// GetCmd returns the cobra "run" subcommand. Cobra does not parse its flags:
// the raw argument slice goes to config.ParseAndValidate to build the Config
// and then to internal/run.RunCommand (it predates cobra and owns its own
// flag.FlagSet), and the legacy int exit code is translated into an error
// cobra/RunWithArgs can interpret.
func GetCmd(helper *cmdutil.Helper, _ *signals.Watcher) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run [tasks]",
		Short:              "Run tasks across projects in your monorepo",
		SilenceUsage:       true,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			terminal := ui.BuildColoredUi(ui.GetColorModeFromEnv())
			cfg, err := config.ParseAndValidate(args, terminal, helper.TurboVersion)
			if err != nil {
				return err
			}

			rc := &run.RunCommand{Config: cfg, Ui: terminal}
			if exitCode := rc.Run(args); exitCode != 0 {
				return &process.ChildExit{ExitCode: exitCode, Command: "turbo run"}
			}
			return nil
		},
	}
	return cmd
}
