package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/quillhq/quill/pkg/auth"
	"github.com/quillhq/quill/pkg/config"
	"github.com/quillhq/quill/pkg/history"
	"github.com/quillhq/quill/pkg/logger"
	"github.com/quillhq/quill/pkg/mcp"
)

func newAuthorizer() (*auth.Authorizer, error) {
	store, err := auth.NewCredentialStore()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open credential store")
	}
	return auth.NewAuthorizer(store), nil
}

// newManager builds the MCP manager from configuration, wiring stored OAuth
// credentials and the invocation log. The returned closer releases the
// history store and must be called after Manager.Cleanup.
func newManager(ctx context.Context, cfg config.Config) (*mcp.Manager, func(), error) {
	authorizer, err := newAuthorizer()
	if err != nil {
		return nil, nil, err
	}

	opts := []mcp.ManagerOption{mcp.WithAuthorizer(authorizer)}

	closer := func() {}
	if log, err := history.Open(ctx); err != nil {
		// A broken audit log never blocks tool use.
		logger.G(ctx).WithError(err).Warn("invocation history disabled")
	} else {
		opts = append(opts, mcp.WithRecorder(log))
		closer = func() { log.Close() }
	}

	return mcp.NewManager(cfg.MCP, opts...), closer, nil
}

// cleanupManager tears down every server, logging rather than dropping the
// aggregated teardown error. Meant to be deferred.
func cleanupManager(ctx context.Context, manager *mcp.Manager) {
	if err := manager.Cleanup(ctx); err != nil {
		logger.G(ctx).WithError(err).Warn("mcp cleanup reported errors")
	}
}
