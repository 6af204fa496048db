package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillhq/quill/pkg/history"
	"github.com/quillhq/quill/pkg/presenter"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent MCP tool invocations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := history.Open(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.Recent(ctx, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			presenter.Info("No tool invocations recorded")
			return nil
		}

		rows := make([][]string, 0, len(entries))
		for _, entry := range entries {
			status := "ok"
			if entry.Error != "" {
				status = entry.Error
			}
			rows = append(rows, []string{
				entry.InvokedAt.Local().Format(time.RFC3339),
				entry.Server,
				entry.ToolID,
				fmt.Sprintf("%dms", entry.DurationMS),
				status,
			})
		}
		presenter.Table([]string{"Invoked At", "Server", "Tool", "Duration", "Result"}, rows)
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 50, "Maximum number of entries to show")
}
