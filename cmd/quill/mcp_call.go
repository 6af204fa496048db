package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quillhq/quill/pkg/config"
)

var mcpCallCmd = &cobra.Command{
	Use:   "call <tool-id> [json-arguments]",
	Short: "Call an MCP tool directly",
	Long: `Call one tool from a connected MCP server and print its output.

The tool id is server-qualified (for example github_get_issue). Arguments are
a JSON object; omit them for tools that take none.

Example:
  quill mcp call github_get_issue '{"owner": "golang", "repo": "go", "number": 1}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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

		parameters := ""
		if len(args) == 2 {
			parameters = args[1]
		}

		output, err := manager.Execute(ctx, args[0], parameters)
		if err != nil {
			return errors.Wrapf(err, "tool %s failed", args[0])
		}
		fmt.Println(output)
		return nil
	},
}
