package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillhq/quill/pkg/config"
	"github.com/quillhq/quill/pkg/presenter"
)

var mcpStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection state and health of MCP servers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if len(cfg.MCP.Servers) == 0 {
			presenter.Info("No MCP servers configured")
			return nil
		}

		manager, closeHistory, err := newManager(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeHistory()
		defer cleanupManager(ctx, manager)

		summary := manager.Initialize(ctx)

		states := manager.Status()
		health := manager.Health()

		names := make([]string, 0, len(states))
		for name := range states {
			names = append(names, name)
		}
		sort.Strings(names)

		rows := make([][]string, 0, len(names))
		for _, name := range names {
			record := health[name]
			lastSuccess := "never"
			if !record.LastSuccess.IsZero() {
				lastSuccess = record.LastSuccess.Format(time.RFC3339)
			}
			rows = append(rows, []string{
				name,
				states[name].String(),
				lastSuccess,
				fmt.Sprintf("%d", record.ConsecutiveFailures),
			})
		}

		presenter.Section(fmt.Sprintf("MCP Servers (%d/%d connected, %d tools)",
			summary.Connected, summary.Total, summary.ToolCount))
		presenter.Table([]string{"Server", "State", "Last Success", "Failures"}, rows)
		return nil
	},
}
