// Package mcp connects to MCP tool servers over stdio and HTTP transports,
// maintains the live tool catalog, and exposes remote tools as locally
// callable tools.
package mcp

import (
	"time"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/quillhq/quill/pkg/auth"
)

// ServerType selects how a server is reached.
type ServerType string

const (
	// ServerTypeLocal spawns the server as a subprocess and talks over stdio.
	ServerTypeLocal ServerType = "local"
	// ServerTypeRemote reaches the server over HTTP, trying streamable HTTP
	// before falling back to SSE.
	ServerTypeRemote ServerType = "remote"
)

const (
	// defaultConnectTimeout bounds a single connection attempt.
	defaultConnectTimeout = 30 * time.Second
	// defaultToolTimeout bounds a single tool call.
	defaultToolTimeout = 60 * time.Second
)

// ServerConfig describes one MCP server. It is immutable once loaded for an
// orchestration cycle.
type ServerConfig struct {
	Type ServerType `json:"type" mapstructure:"type"`

	// Local servers.
	Command string            `json:"command,omitempty" mapstructure:"command"`
	Args    []string          `json:"args,omitempty" mapstructure:"args"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env"`

	// Remote servers.
	URL     string            `json:"url,omitempty" mapstructure:"url"`
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	// OAuth is the client configuration for servers requiring authorization.
	// Nil means the server is unauthenticated (config value `oauth: false`
	// decodes to nil as well).
	OAuth *auth.ClientConfig `json:"oauth,omitempty" mapstructure:"oauth"`

	// TimeoutSeconds bounds each connection attempt. Zero means the default.
	TimeoutSeconds int `json:"timeout,omitempty" mapstructure:"timeout"`
	// ToolTimeoutSeconds bounds each tool call. Zero means the default.
	ToolTimeoutSeconds int `json:"tool_timeout,omitempty" mapstructure:"tool_timeout"`
	// Enabled defaults to true when unset.
	Enabled *bool `json:"enabled,omitempty" mapstructure:"enabled"`
	// ToolFilter restricts which discovered tools enter the catalog. Each
	// entry is a glob pattern matched against the unprefixed tool name; an
	// empty filter admits everything.
	ToolFilter []string `json:"tool_filter,omitempty" mapstructure:"tool_filter"`
}

// Config is the full MCP server map.
type Config struct {
	Servers map[string]ServerConfig `json:"servers" mapstructure:"servers"`
}

// IsEnabled reports whether the server should be connected at all.
func (c ServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c ServerConfig) connectTimeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultConnectTimeout
}

func (c ServerConfig) toolTimeout() time.Duration {
	if c.ToolTimeoutSeconds > 0 {
		return time.Duration(c.ToolTimeoutSeconds) * time.Second
	}
	return defaultToolTimeout
}

// Validate checks the descriptor for the mistakes a config file can carry.
func (c ServerConfig) Validate() error {
	switch c.Type {
	case ServerTypeLocal:
		if c.Command == "" {
			return errors.New("command is required for local servers")
		}
		if c.URL != "" {
			return errors.New("url is not valid for local servers")
		}
	case ServerTypeRemote:
		if c.URL == "" {
			return errors.New("url is required for remote servers")
		}
		if c.Command != "" {
			return errors.New("command is not valid for remote servers")
		}
	case "":
		return errors.New("type is required (local or remote)")
	default:
		return errors.Errorf("unknown server type %q", c.Type)
	}

	for _, pattern := range c.ToolFilter {
		if _, err := glob.Compile(pattern); err != nil {
			return errors.Wrapf(err, "invalid tool_filter pattern %q", pattern)
		}
	}
	return nil
}

// compileFilter turns the tool filter into matchers. Validate has already
// rejected bad patterns, so compile errors here only skip the pattern.
func (c ServerConfig) compileFilter() []glob.Glob {
	matchers := make([]glob.Glob, 0, len(c.ToolFilter))
	for _, pattern := range c.ToolFilter {
		g, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		matchers = append(matchers, g)
	}
	return matchers
}

func toolAllowed(name string, matchers []glob.Glob) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, g := range matchers {
		if g.Match(name) {
			return true
		}
	}
	return false
}
