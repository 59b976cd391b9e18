package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/lesson-insights/config"
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "List feature flags after FEATURE_* overrides",
	RunE: func(cmd *cobra.Command, _ []string) error {
		features := config.LoadFeatureFlags().All()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), features)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FLAG\tENABLED\tROLLOUT\tDESCRIPTION")
		for _, f := range features {
			fmt.Fprintf(tw, "%s\t%t\t%d%%\t%s\n", f.Name, f.Enabled, f.RolloutPercent, f.Description)
		}
		return tw.Flush()
	},
}
