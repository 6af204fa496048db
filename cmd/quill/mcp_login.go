package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quillhq/quill/pkg/auth"
	"github.com/quillhq/quill/pkg/config"
	"github.com/quillhq/quill/pkg/mcp"
	"github.com/quillhq/quill/pkg/presenter"
)

var mcpLoginCmd = &cobra.Command{
	Use:   "login <server>",
	Short: "Authorize a remote MCP server via OAuth",
	Long: `Run the OAuth authorization-code flow (with PKCE) for a remote MCP server
and store the resulting credentials under ~/.quill.

If the server configuration carries no client id, a client is registered
dynamically where the server supports it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := args[0]

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		server, ok := cfg.MCP.Servers[name]
		if !ok {
			return errors.Errorf("unknown mcp server %q", name)
		}
		if server.Type != mcp.ServerTypeRemote {
			return errors.Errorf("server %q is not a remote server", name)
		}

		clientCfg := auth.ClientConfig{}
		if server.OAuth != nil {
			clientCfg = *server.OAuth
		}

		authorizer, err := newAuthorizer()
		if err != nil {
			return err
		}

		presenter.Info(fmt.Sprintf("Starting OAuth flow for %s, a browser window will open...", name))
		if err := authorizer.Authorize(ctx, name, server.URL, clientCfg); err != nil {
			if errors.Is(err, auth.ErrClientRegistration) {
				return errors.Wrapf(err, "server %s does not support dynamic client registration, configure a client id", name)
			}
			return err
		}

		presenter.Success(fmt.Sprintf("Authorized %s", name))
		return nil
	},
}

var mcpLogoutCmd = &cobra.Command{
	Use:   "logout <server>",
	Short: "Discard stored OAuth credentials for a remote MCP server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		authorizer, err := newAuthorizer()
		if err != nil {
			return err
		}
		if err := authorizer.Logout(name); err != nil {
			return err
		}
		presenter.Success(fmt.Sprintf("Logged out of %s", name))
		return nil
	},
}
