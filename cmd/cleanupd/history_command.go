package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"cleanupd/internal/index"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent eviction history, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return errors.New("--limit must be at least 1")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := index.Open(cfg)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			defer store.Close()

			records, err := store.RecentHistory(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			if jsonOutput {
				if records == nil {
					records = []index.HistoryRecord{}
				}
				return writeJSON(cmd, records)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No history recorded yet")
				return nil
			}
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					formatTime(rec.RunTimestamp),
					shortRunID(rec.RunID),
					rec.TargetPath,
					colorStatus(rec.Status, colorize),
					formatCount(rec.FilesRemovedByAge + rec.FilesRemovedBySize),
					formatBytes(rec.BytesRemovedTotal),
					formatCount(rec.FilesFailed),
					rec.Message,
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				left("Run At"), left("Run"), wrapped("Target", 40), left("Status"),
				right("Files"), right("Freed"), right("Failed"), wrapped("Message", 48),
			}, rows))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, fmt.Sprintf("Number of records to show (at most %d)", index.MaxHistoryLimit))
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output records as JSON")
	return cmd
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
