package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"

	"github.com/quillhq/quill/pkg/auth"
	"github.com/quillhq/quill/pkg/logger"
	"github.com/quillhq/quill/pkg/version"
)

// session is the surface of a connected MCP client the manager drives.
// *client.Client satisfies it.
type session interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	OnNotification(handler func(mcp.JSONRPCNotification))
	Close() error
}

// tokenSource is the authorizer surface the connector needs. *auth.Authorizer
// satisfies it.
type tokenSource interface {
	GetValidToken(ctx context.Context, server string) (string, error)
	HasClient(server string, cfg auth.ClientConfig) bool
}

// connectResult is the settled outcome of one connection attempt. On success
// the session is live and tools holds its current tool list, saving the
// manager a second discovery round-trip.
type connectResult struct {
	state   ConnectionState
	session session
	tools   []mcp.Tool
}

// dialFunc opens a session for one server descriptor. Tests substitute it.
type dialFunc func(ctx context.Context, name string, cfg ServerConfig) connectResult

// connector establishes sessions over the configured transports.
type connector struct {
	tokens tokenSource
}

func (c *connector) dial(ctx context.Context, name string, cfg ServerConfig) connectResult {
	switch cfg.Type {
	case ServerTypeLocal:
		return c.dialLocal(ctx, name, cfg)
	case ServerTypeRemote:
		return c.dialRemote(ctx, name, cfg)
	default:
		return connectResult{state: failedState(errors.Errorf("unknown server type %q", cfg.Type))}
	}
}

func (c *connector) dialLocal(ctx context.Context, name string, cfg ServerConfig) connectResult {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	tp := transport.NewStdio(cfg.Command, env, cfg.Args...)
	cli := client.NewClient(tp)

	tools, err := startSession(ctx, cli, cfg.connectTimeout())
	if err != nil {
		cli.Close()
		return connectResult{state: failedState(errors.Wrapf(err, "failed to start %s", cfg.Command))}
	}
	return connectResult{state: connectingState(), session: cli, tools: tools}
}

func (c *connector) dialRemote(ctx context.Context, name string, cfg ServerConfig) connectResult {
	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	if cfg.OAuth != nil {
		token, err := c.tokens.GetValidToken(ctx, name)
		if err != nil {
			return connectResult{state: failedState(err)}
		}
		if token == "" {
			if !c.tokens.HasClient(name, *cfg.OAuth) {
				return connectResult{state: needsClientRegistrationState(auth.ErrClientRegistration)}
			}
			return connectResult{state: needsAuthState()}
		}
		headers["Authorization"] = "Bearer " + token
	}

	log := logger.G(ctx).WithField("server", name)
	var lastErr error
	for _, attempt := range []struct {
		kind string
		open func() (session, error)
	}{
		{"streamable-http", func() (session, error) { return newStreamableHTTPSession(cfg.URL, headers) }},
		{"sse", func() (session, error) { return newSSESession(cfg.URL, headers) }},
	} {
		cli, err := attempt.open()
		if err != nil {
			lastErr = err
			continue
		}
		tools, err := startSession(ctx, cli, cfg.connectTimeout())
		if err == nil {
			log.WithField("transport", attempt.kind).Debug("connected")
			return connectResult{state: connectingState(), session: cli, tools: tools}
		}
		cli.Close()
		if authRejected(err) {
			return connectResult{state: needsAuthState()}
		}
		log.WithField("transport", attempt.kind).WithError(err).Debug("transport attempt failed")
		lastErr = err
	}
	return connectResult{state: failedState(lastErr)}
}

func newStreamableHTTPSession(url string, headers map[string]string) (session, error) {
	tp, err := transport.NewStreamableHTTP(url, transport.WithHTTPHeaders(headers))
	if err != nil {
		return nil, err
	}
	return client.NewClient(tp), nil
}

func newSSESession(url string, headers map[string]string) (session, error) {
	tp, err := transport.NewSSE(url, transport.WithHeaders(headers))
	if err != nil {
		return nil, err
	}
	return client.NewClient(tp), nil
}

// startSession performs the transport start and protocol handshake bounded
// by the descriptor timeout, returning the server's current tool list.
func startSession(ctx context.Context, cli session, timeout time.Duration) ([]mcp.Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := cli.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "transport start failed")
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "quill",
		Version: version.Version,
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		return nil, errors.Wrap(err, "initialize handshake failed")
	}

	listed, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errors.Wrap(err, "initial tool listing failed")
	}
	return listed.Tools, nil
}

// authRejected reports whether a connect error indicates the server rejected
// our credentials rather than being unreachable.
func authRejected(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "403", "unauthorized", "forbidden"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
