package main

import (
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage and interact with MCP (Model Context Protocol) servers",
	Long: `Commands for working with configured MCP servers and their tools.

MCP provides a standard way to connect AI agents to external systems. These
commands inspect server connectivity, call tools directly, and manage OAuth
credentials for remote servers.`,
}

func init() {
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpStatusCmd)
	mcpCmd.AddCommand(mcpCallCmd)
	mcpCmd.AddCommand(mcpRefreshCmd)
	mcpCmd.AddCommand(mcpLoginCmd)
	mcpCmd.AddCommand(mcpLogoutCmd)
	rootCmd.AddCommand(mcpCmd)
}
