package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhq/quill/pkg/mcp"
)

func loadFromYAML(t *testing.T, content string) Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadServerMap(t *testing.T) {
	cfg := loadFromYAML(t, `
provider: anthropic
model: claude-sonnet-4
retry:
  attempts: 3
  backoff: true
mcp:
  servers:
    filesystem:
      type: local
      command: npx
      args: ["-y", "@modelcontextprotocol/server-filesystem", "."]
    github:
      type: remote
      url: https://api.githubcopilot.com/mcp/
      oauth:
        client_id: abc123
        scope: repo
`)

	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.True(t, cfg.Retry.Backoff)

	fs := cfg.MCP.Servers["filesystem"]
	assert.Equal(t, mcp.ServerTypeLocal, fs.Type)
	assert.Equal(t, "npx", fs.Command)
	assert.Nil(t, fs.OAuth)

	gh := cfg.MCP.Servers["github"]
	assert.Equal(t, mcp.ServerTypeRemote, gh.Type)
	require.NotNil(t, gh.OAuth)
	assert.Equal(t, "abc123", gh.OAuth.ClientID)
	assert.Equal(t, "repo", gh.OAuth.Scope)
}

func TestOAuthFalseDecodesToNil(t *testing.T) {
	cfg := loadFromYAML(t, `
mcp:
  servers:
    open:
      type: remote
      url: https://example.com/mcp
      oauth: false
    dynamic:
      type: remote
      url: https://example.com/mcp
      oauth: true
`)

	assert.Nil(t, cfg.MCP.Servers["open"].OAuth)

	dyn := cfg.MCP.Servers["dynamic"].OAuth
	require.NotNil(t, dyn)
	assert.Empty(t, dyn.ClientID)
}

func TestLoadRejectsInvalidServer(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mcp:
  servers:
    broken:
      type: local
`), 0o644))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid mcp server "broken"`)
}

func TestLoadSchemaInline(t *testing.T) {
	schema, err := LoadSchema(`{"type":"object"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"object"}`, schema)

	schema, err = LoadSchema("")
	require.NoError(t, err)
	assert.Empty(t, schema)
}

func TestLoadSchemaJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"object","required":["message"]}`), 0o644))

	schema, err := LoadSchema(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","required":["message"]}`, schema)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o644))
	_, err = LoadSchema(bad)
	require.Error(t, err)
}

func TestLoadSchemaYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
type: object
required:
  - message
`), 0o644))

	schema, err := LoadSchema(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","required":["message"]}`, schema)
}

func TestLoadSchemaMissingFile(t *testing.T) {
	_, err := LoadSchema("/no/such/schema.json")
	require.Error(t, err)
}
