// Package recent implements `turbo recent`, which summarizes the most
// recently written run summary under .turbo/runs.
package recent

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/turbocache/turbo/internal/cmdutil"
	"github.com/turbocache/turbo/internal/turbopath"
	"github.com/turbocache/turbo/internal/util"
)

// GetCmd returns the cobra command for `turbo recent`.
func GetCmd(helper *cmdutil.Helper) *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:           "recent",
		Short:         "Summarizes the most recent run",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(cmd.Root().Flags())
			if err != nil {
				return err
			}
			summaryDir := base.RepoRoot.UntypedJoin(".turbo", "runs")
			summary, err := findMostRecentSummary(summaryDir)
			if err != nil {
				if os.IsNotExist(err) {
					base.UI.Warn("No recent turbo runs found")
					return nil
				}
				return err
			}
			if outputJSON {
				return renderJSON(base, summary)
			}
			return renderText(base, summary)
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output summary in JSON format")
	return cmd
}

func renderText(base *cmdutil.CmdBase, summary map[string]interface{}) error {
	base.UI.Output("")
	base.UI.Info(util.Sprintf("${CYAN}${BOLD}turbo run session %v${RESET}", summary["sessionId"]))
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintf(tw, "Command\t%v\n", summary["command"])
	start := time.UnixMilli(int64(summary["startedAt"].(float64)))
	startString := start.Format(time.RFC3339)
	end := time.UnixMilli(int64(summary["endedAt"].(float64)))
	duration := end.Sub(start)
	fmt.Fprintf(tw, "Started\t%v (%v)\n", startString, duration)
	if err := tw.Flush(); err != nil {
		return err
	}
	base.UI.Info(util.Sprintf("Entrypoint Packages:"))
	entrypoints := summary["entrypointPackages"].([]interface{})
	for _, pkg := range entrypoints {
		base.UI.Info(util.Sprintf("${GREY}\t%v${RESET}", pkg))
	}
	base.UI.Info(util.Sprintf("Entrypoint Tasks:"))
	targets := summary["targets"].([]interface{})
	for _, target := range targets {
		base.UI.Info(util.Sprintf("${GREY}\t%v${RESET}", target))
	}
	base.UI.Info(util.Sprintf("Tasks:"))
	tasks := summary["tasks"].(map[string]interface{})
	for taskID, taskSummary := range tasks {
		ts := taskSummary.(map[string]interface{})
		tw = tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
		base.UI.Info(util.Sprintf("${BOLD}%s${RESET}", taskID))
		fmt.Fprintln(tw, util.Sprintf("  ${GREY}Hash\t=\t%v${RESET}", ts["taskHash"]))
		fmt.Fprintln(tw, util.Sprintf("  ${GREY}Status\t=\t%v${RESET}", ts["status"]))
		started := time.UnixMilli(int64(ts["startedAt"].(float64)))
		duration := time.Duration(ts["durationMs"].(float64)) * time.Millisecond
		fmt.Fprintln(tw, util.Sprintf("  ${GREY}Started\t=\t%v (%v)${RESET}", started.Format(time.RFC3339), duration))
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	base.UI.Output("")
	return nil
}

func renderJSON(base *cmdutil.CmdBase, summary map[string]interface{}) error {
	rendered, err := json.MarshalIndent(summary, "", "\t")
	if err != nil {
		return err
	}
	base.UI.Output(string(rendered))
	return nil
}

func findMostRecentSummary(summaryDir turbopath.AbsoluteSystemPath) (map[string]interface{}, error) {
	entries, err := os.ReadDir(summaryDir.ToString())
	if err != nil {
		return nil, err
	} else if len(entries) == 0 {
		return nil, os.ErrNotExist
	}
	max := ""
	for _, entry := range entries {
		if entry.Name() > max {
			max = entry.Name()
		}
	}
	if max == "" {
		return nil, os.ErrNotExist
	}
	summaryPath := summaryDir.UntypedJoin(max)
	raw, err := summaryPath.ReadFile()
	if err != nil {
		return nil, err
	}
	summary := make(map[string]interface{})
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, err
	}
	return summary, nil
}
