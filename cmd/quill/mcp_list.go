package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quillhq/quill/pkg/config"
	"github.com/quillhq/quill/pkg/mcp"
	"github.com/quillhq/quill/pkg/presenter"
	tooltypes "github.com/quillhq/quill/pkg/types/tools"
)

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available MCP tools",
	Long: `Connect to the configured MCP servers and list the tools they expose.

Use --server to limit output to one server and --json for machine-readable
output.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
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

		serverFilter, _ := cmd.Flags().GetString("server")
		verbose, _ := cmd.Flags().GetBool("verbose")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		// Resolve each id once; a concurrent rediscovery may have dropped
		// entries between ToolIDs and Tool.
		var listed []tooltypes.Tool
		for _, id := range manager.ToolIDs() {
			tool, ok := manager.Tool(id)
			if !ok {
				continue
			}
			if serverFilter != "" {
				rt, isRemote := tool.(*mcp.RemoteTool)
				if !isRemote || rt.Server() != serverFilter {
					continue
				}
			}
			listed = append(listed, tool)
		}

		if jsonOutput {
			data := make([]map[string]any, 0, len(listed))
			for _, tool := range listed {
				entry := map[string]any{
					"name":        tool.Name(),
					"description": tool.Description(),
				}
				if verbose {
					entry["schema"] = tool.GenerateSchema()
				}
				data = append(data, entry)
			}
			output, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal JSON output")
			}
			fmt.Println(string(output))
			return nil
		}

		presenter.Section(fmt.Sprintf("Available MCP Tools (%d)", len(listed)))
		for _, tool := range listed {
			fmt.Printf("  %s\n", tool.Name())
			if verbose {
				fmt.Printf("    %s\n", tool.Description())
			}
		}
		return nil
	},
}

func init() {
	mcpListCmd.Flags().String("server", "", "Only list tools from this server")
	mcpListCmd.Flags().BoolP("verbose", "v", false, "Show tool descriptions")
	mcpListCmd.Flags().Bool("json", false, "Output in JSON format")
}
