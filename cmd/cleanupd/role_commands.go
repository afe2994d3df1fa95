package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"cleanupd/internal/policy"
	"cleanupd/internal/runner"
)

func newIndexCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Scan every policy target once and refresh the index",
		Long: `Run one indexer session: prune each target to its max_depth and record
the remaining files in the index. Exits 0 without doing anything when
another indexer is already running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report, err := runner.RunIndexer(cmd.Context(), cfg, runner.Options{})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			if printBusy(out, report) {
				return nil
			}
			colorize := shouldColorize(out)

			rows := make([][]string, 0, len(report.Scans))
			for _, scan := range report.Scans {
				rows = append(rows, []string{
					scan.PolicyID,
					scan.Target,
					colorOutcome(scan.Outcome, colorize),
					yesNo(scan.DryRun),
					formatCount(scan.Entries),
					formatBytes(scan.Bytes),
					formatCount(scan.PrunedDirs),
					scan.Duration.Round(time.Millisecond).String(),
				})
			}
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable([]column{
					left("Policy"), wrapped("Target", 48), left("Outcome"), left("Dry Run"),
					right("Files"), right("Size"), right("Pruned"), right("Took"),
				}, rows))
			}
			printIssues(out, report.Issues)
			printSessionFooter(out, report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the session report as JSON")
	return cmd
}

func newEvictCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Apply every policy's eviction rules once",
		Long: `Run one evictor session: delete indexed files older than each policy's
age limit, then trim size-monitored targets down to their quota oldest
first. Policies with remove = false only report what they would delete.
Every attempted target appends one history record.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report, err := runner.RunEvictor(cmd.Context(), cfg, runner.Options{})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			if printBusy(out, report) {
				return nil
			}
			colorize := shouldColorize(out)

			rows := make([][]string, 0, len(report.Evictions))
			for _, sum := range report.Evictions {
				id := sum.PolicyID
				if id == "" {
					id = "-"
				}
				rows = append(rows, []string{
					id,
					sum.Target,
					colorStatus(sum.Status, colorize),
					formatCount(sum.FilesByAge),
					formatCount(sum.FilesBySize),
					formatBytes(sum.BytesTotal()),
					formatCount(sum.FilesFailed),
					sum.Message,
				})
			}
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable([]column{
					left("Policy"), wrapped("Target", 40), left("Status"),
					right("By Age"), right("By Size"), right("Freed"), right("Failed"),
					wrapped("Message", 48),
				}, rows))
			}
			printSessionFooter(out, report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the session report as JSON")
	return cmd
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control-plane HTTP server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return runner.Serve(cmd.Context(), cfg, runner.Options{
				Ready: func(addr string) {
					fmt.Fprintf(out, "Control plane listening on http://%s\n", addr)
				},
			})
		},
	}
}

func printBusy(out io.Writer, report runner.SessionReport) bool {
	if !report.Busy {
		return false
	}
	if report.HolderPID > 0 {
		fmt.Fprintf(out, "%s already running (pid %d); nothing to do\n", report.Role, report.HolderPID)
	} else {
		fmt.Fprintf(out, "%s already running; nothing to do\n", report.Role)
	}
	return true
}

func printIssues(out io.Writer, issues []policy.LoadIssue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintln(out, "Skipped policy files:")
	for _, issue := range issues {
		fmt.Fprintf(out, "  %s: %v\n", issue.Path, issue.Err)
	}
}

func printSessionFooter(out io.Writer, report runner.SessionReport) {
	if report.Tally.Total() == 0 {
		fmt.Fprintln(out, "No policies configured")
	}
	fmt.Fprintf(out, "Run %s: %d succeeded, %d skipped, %d failed in %s\n",
		report.RunID,
		report.Tally.Succeeded,
		report.Tally.Skipped,
		report.Tally.Failed,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	if report.Interrupted {
		fmt.Fprintln(out, "Interrupted before every target was processed")
	}
	if report.LogPath != "" {
		fmt.Fprintf(out, "Log: %s\n", report.LogPath)
	}
}
