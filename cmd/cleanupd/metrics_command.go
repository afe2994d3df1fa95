package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cleanupd/internal/index"
	"cleanupd/internal/usage"
)

func newMetricsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show index totals and filesystem usage per target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			policies, err := ctx.policyStore()
			if err != nil {
				return err
			}
			snapshot, _, err := policies.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("load policies: %w", err)
			}

			store, err := index.Open(cfg)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			defer store.Close()

			report, err := usage.NewCollector(store, ctx.commandLogger()).Collect(cmd.Context(), snapshot)
			if err != nil {
				return fmt.Errorf("collect usage: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Indexed files: %s (%s), last refreshed %s\n",
				formatCount(report.TotalEntries),
				formatBytes(report.TotalBytes),
				formatAge(report.LastRefreshed),
			)
			if len(report.Targets) == 0 {
				fmt.Fprintln(out, "No targets")
				return nil
			}

			rows := make([][]string, 0, len(report.Targets))
			for _, t := range report.Targets {
				policyID := t.PolicyID
				if policyID == "" {
					policyID = "-"
				}
				disk := []string{"?", "?", "?"}
				if t.Disk != nil {
					disk = []string{humanize.IBytes(t.Disk.TotalBytes), humanize.IBytes(t.Disk.UsedBytes), humanize.IBytes(t.Disk.FreeBytes)}
				}
				rows = append(rows, append([]string{
					policyID,
					t.TargetPath,
					formatCount(t.Entries),
					formatBytes(t.IndexedBytes),
					formatAge(t.RefreshedAt),
				}, disk...))
			}
			fmt.Fprintln(out, renderTable([]column{
				left("Policy"), wrapped("Target", 48), right("Files"), right("Indexed"),
				left("Refreshed"), right("FS Total"), right("FS Used"), right("FS Free"),
			}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the usage report as JSON")
	return cmd
}
