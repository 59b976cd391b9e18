package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/lesson-insights/internal/app"
	"github.com/alem-hub/lesson-insights/internal/application/command"
	"github.com/alem-hub/lesson-insights/internal/application/query"
	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
)

// ── priorities ──

var (
	prioritiesLimit      int
	prioritiesActionable bool
)

var prioritiesCmd = &cobra.Command{
	Use:   "priorities",
	Short: "Print the lesson improvement priority queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withContainer(cmd, true, false, func(ctx context.Context, c *app.Container) error {
			res, err := c.AdminHandler().Priorities(ctx, query.GetPrioritiesQuery{
				ActionableOnly: prioritiesActionable,
				Limit:          prioritiesLimit,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s .. %s, %d actionable\n", res.Range.Start, res.Range.End, res.Actionable)
			return printItems(cmd, res.Items)
		})
	},
}

func printItems(cmd *cobra.Command, items []improvement.PriorityItem) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LESSON\tORIGINS\tFOLLOW-UP %\tHINT\tSCORE\tLOW SAMPLE")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%.2f\t%t\n",
			it.LessonSlug, it.OriginCount, it.FollowUpRate, it.HintType, it.Priority.Score, it.IsLowSample)
	}
	return tw.Flush()
}

// ── open-issues ──

var openIssuesDryRun bool

var openIssuesCmd = &cobra.Command{
	Use:   "open-issues",
	Short: "Open tracker issues for the top actionable lessons",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withContainer(cmd, openIssuesDryRun, false, func(ctx context.Context, c *app.Container) error {
			res, err := c.OpenIssuesHandler().Handle(ctx, command.OpenIssuesCommand{DryRun: openIssuesDryRun})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d candidates, %d opened, %d skipped\n", len(res.Candidates), len(res.Opened), len(res.Skipped))
			for _, o := range res.Opened {
				fmt.Fprintf(out, "  #%d %s (score %.2f) %s\n", o.IssueNumber, o.LessonSlug, o.Score, o.IssueURL)
			}
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  error: %s\n", e)
			}
			if openIssuesDryRun {
				return printItems(cmd, res.Candidates)
			}
			return nil
		})
	},
}

// ── evaluate ──

var (
	evaluateForce bool
	evaluateID    string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate open improvements and update their issues",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withContainer(cmd, false, false, func(ctx context.Context, c *app.Container) error {
			res, err := c.EvaluateImprovementsHandler().Handle(ctx, command.EvaluateImprovementsCommand{
				Force:         evaluateForce,
				ImprovementID: evaluateID,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LESSON\tISSUE\tBASELINE\tCURRENT\tDECISION\tNOTE")
			for _, o := range res.Outcomes {
				decision := "-"
				if o.Result != nil {
					decision = string(o.Result.Decision)
				}
				note := o.Skipped
				if o.Error != "" {
					note = o.Error
				}
				fmt.Fprintf(tw, "%s\t#%d\t%d\t%d\t%s\t%s\n", o.LessonSlug, o.IssueNumber, o.BaselineRate, o.CurrentRate, decision, note)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d evaluated, %d closed, %d failed\n", res.Evaluated, res.Closed, res.Failed)
			return nil
		})
	},
}

func init() {
	prioritiesCmd.Flags().IntVarP(&prioritiesLimit, "limit", "n", 0, "Maximum lessons to print (default 10)")
	prioritiesCmd.Flags().BoolVar(&prioritiesActionable, "actionable", false, "Drop low-sample lessons")

	openIssuesCmd.Flags().BoolVar(&openIssuesDryRun, "dry-run", false, "Score lessons without opening issues")

	evaluateCmd.Flags().BoolVar(&evaluateForce, "force", false, "Ignore the evaluation window")
	evaluateCmd.Flags().StringVar(&evaluateID, "id", "", "Evaluate only this improvement")
}
