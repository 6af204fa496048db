package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillhq/quill/pkg/config"
	"github.com/quillhq/quill/pkg/presenter"
)

var mcpRefreshCmd = &cobra.Command{
	Use:   "refresh <server>",
	Short: "Tear down and reconnect one MCP server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := args[0]

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		manager, closeHistory, err := newManager(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeHistory()
		defer cleanupManager(ctx, manager)

		manager.Initialize(ctx)

		if err := manager.Refresh(ctx, name); err != nil {
			return err
		}
		presenter.Success(fmt.Sprintf("Server %s reconnected: %s", name, manager.Status()[name]))
		return nil
	},
}
