package mcp

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	tools    []mcp.Tool
	callErr  error
	callText string
	closed   atomic.Int32
	closeErr error
	notify   func(mcp.JSONRPCNotification)
	pingErr  error
}

func (f *fakeSession) Start(context.Context) error { return nil }

func (f *fakeSession) Initialize(context.Context, mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}

func (f *fakeSession) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeSession) CallTool(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return mcp.NewToolResultText(f.callText), nil
}

func (f *fakeSession) Ping(context.Context) error { return f.pingErr }

func (f *fakeSession) OnNotification(handler func(mcp.JSONRPCNotification)) {
	f.notify = handler
}

func (f *fakeSession) Close() error {
	f.closed.Add(1)
	return f.closeErr
}

func (f *fakeSession) setTools(tools []mcp.Tool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
}

func namedTool(name string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: name + " tool",
		InputSchema: mcp.ToolInputSchema{Type: "object"},
	}
}

func staticDialer(results map[string]connectResult) dialFunc {
	return func(_ context.Context, name string, _ ServerConfig) connectResult {
		return results[name]
	}
}

func remoteConfig() ServerConfig {
	return ServerConfig{Type: ServerTypeRemote, URL: "http://example.invalid"}
}

func TestInitializeSettlesAllServers(t *testing.T) {
	good := &fakeSession{}
	results := map[string]connectResult{
		"good":   {state: connectingState(), session: good, tools: []mcp.Tool{namedTool("alpha"), namedTool("beta")}},
		"down":   {state: failedState(errors.New("connection refused"))},
		"locked": {state: needsAuthState()},
	}

	// Stagger the attempts so a slow failure cannot be masked by a fast
	// success.
	var dialed atomic.Int32
	dial := func(_ context.Context, name string, _ ServerConfig) connectResult {
		dialed.Add(1)
		if name == "down" {
			time.Sleep(50 * time.Millisecond)
		}
		return results[name]
	}

	m := NewManager(Config{Servers: map[string]ServerConfig{
		"good":   remoteConfig(),
		"down":   remoteConfig(),
		"locked": remoteConfig(),
	}}, WithDialer(dial))
	defer m.Cleanup(context.Background())

	summary := m.Initialize(context.Background())

	assert.Equal(t, int32(3), dialed.Load())
	assert.Equal(t, Summary{Connected: 1, Total: 3, ToolCount: 2}, summary)

	status := m.Status()
	assert.Equal(t, StateConnected, status["good"].Kind)
	assert.Equal(t, 2, status["good"].ToolCount)
	assert.Equal(t, StateFailed, status["down"].Kind)
	assert.Contains(t, status["down"].Err, "connection refused")
	assert.Equal(t, StateNeedsAuth, status["locked"].Kind)
}

func TestDisabledServerIsNeverDialed(t *testing.T) {
	var dialed atomic.Int32
	dial := func(context.Context, string, ServerConfig) connectResult {
		dialed.Add(1)
		return connectResult{state: failedState(errors.New("unexpected"))}
	}

	off := false
	m := NewManager(Config{Servers: map[string]ServerConfig{
		"sleeping": {Type: ServerTypeRemote, URL: "http://example.invalid", Enabled: &off},
	}}, WithDialer(dial))
	defer m.Cleanup(context.Background())

	summary := m.Initialize(context.Background())

	assert.Equal(t, int32(0), dialed.Load())
	assert.Equal(t, Summary{Connected: 0, Total: 1, ToolCount: 0}, summary)
	assert.Equal(t, StateDisabled, m.Status()["sleeping"].Kind)
}

func TestCatalogIDsAreServerQualified(t *testing.T) {
	m := NewManager(Config{Servers: map[string]ServerConfig{
		"s1": remoteConfig(),
		"s2": remoteConfig(),
	}}, WithDialer(staticDialer(map[string]connectResult{
		"s1": {state: connectingState(), session: &fakeSession{}, tools: []mcp.Tool{namedTool("toolA")}},
		"s2": {state: connectingState(), session: &fakeSession{}, tools: []mcp.Tool{namedTool("toolA")}},
	})))
	defer m.Cleanup(context.Background())

	m.Initialize(context.Background())

	assert.Equal(t, []string{"s1_toolA", "s2_toolA"}, m.ToolIDs())
}

func TestDisconnectRemovesOnlyOwnTools(t *testing.T) {
	s1 := &fakeSession{}
	m := NewManager(Config{Servers: map[string]ServerConfig{
		"s1": remoteConfig(),
		"s2": remoteConfig(),
	}}, WithDialer(staticDialer(map[string]connectResult{
		"s1": {state: connectingState(), session: s1, tools: []mcp.Tool{namedTool("toolA"), namedTool("toolB")}},
		"s2": {state: connectingState(), session: &fakeSession{}, tools: []mcp.Tool{namedTool("toolA")}},
	})))
	defer m.Cleanup(context.Background())

	m.Initialize(context.Background())
	require.Len(t, m.ToolIDs(), 3)

	require.NoError(t, m.DisconnectServer("s1"))

	assert.Equal(t, []string{"s2_toolA"}, m.ToolIDs())
	assert.Equal(t, int32(1), s1.closed.Load())
	assert.Equal(t, StateDisabled, m.Status()["s1"].Kind)

	_, ok := m.Health()["s1"]
	assert.False(t, ok)

	// Idempotent.
	require.NoError(t, m.DisconnectServer("s1"))
	assert.Equal(t, int32(1), s1.closed.Load())
}

func TestToolListChangedTriggersRediscovery(t *testing.T) {
	sess := &fakeSession{tools: []mcp.Tool{namedTool("old")}}
	m := NewManager(Config{Servers: map[string]ServerConfig{
		"srv": remoteConfig(),
	}}, WithDialer(func(context.Context, string, ServerConfig) connectResult {
		return connectResult{state: connectingState(), session: sess, tools: sess.tools}
	}))
	defer m.Cleanup(context.Background())

	m.Initialize(context.Background())
	require.Equal(t, []string{"srv_old"}, m.ToolIDs())
	require.NotNil(t, sess.notify)

	sess.setTools([]mcp.Tool{namedTool("fresh")})
	sess.notify(mcp.JSONRPCNotification{Notification: mcp.Notification{Method: toolsListChangedMethod}})

	assert.Equal(t, []string{"srv_fresh"}, m.ToolIDs())
}

func TestUnrelatedNotificationIsIgnored(t *testing.T) {
	sess := &fakeSession{tools: []mcp.Tool{namedTool("stable")}}
	m := NewManager(Config{Servers: map[string]ServerConfig{
		"srv": remoteConfig(),
	}}, WithDialer(func(context.Context, string, ServerConfig) connectResult {
		return connectResult{state: connectingState(), session: sess, tools: sess.tools}
	}))
	defer m.Cleanup(context.Background())

	m.Initialize(context.Background())
	sess.setTools(nil)
	sess.notify(mcp.JSONRPCNotification{Notification: mcp.Notification{Method: "notifications/resources/updated"}})

	assert.Equal(t, []string{"srv_stable"}, m.ToolIDs())
}

func TestToolFilterLimitsCatalog(t *testing.T) {
	cfg := remoteConfig()
	cfg.ToolFilter = []string{"get_*"}

	m := NewManager(Config{Servers: map[string]ServerConfig{"srv": cfg}},
		WithDialer(staticDialer(map[string]connectResult{
			"srv": {state: connectingState(), session: &fakeSession{}, tools: []mcp.Tool{
				namedTool("get_issue"), namedTool("get_pull"), namedTool("delete_repo"),
			}},
		})))
	defer m.Cleanup(context.Background())

	summary := m.Initialize(context.Background())

	assert.Equal(t, 2, summary.ToolCount)
	assert.Equal(t, []string{"srv_get_issue", "srv_get_pull"}, m.ToolIDs())
}

func TestExecute(t *testing.T) {
	sess := &fakeSession{callText: "it worked"}
	m := NewManager(Config{Servers: map[string]ServerConfig{"srv": remoteConfig()}},
		WithDialer(staticDialer(map[string]connectResult{
			"srv": {state: connectingState(), session: sess, tools: []mcp.Tool{namedTool("echo")}},
		})))
	defer m.Cleanup(context.Background())
	m.Initialize(context.Background())

	out, err := m.Execute(context.Background(), "srv_echo", `{"msg":"hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "it worked", out)

	_, err = m.Execute(context.Background(), "srv_missing", "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool srv_missing")
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []string
	failed  []bool
}

func (f *fakeRecorder) RecordInvocation(_ context.Context, _ string, toolID string, _ time.Duration, execErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, toolID)
	f.failed = append(f.failed, execErr != nil)
}

func TestExecuteRecordsInvocations(t *testing.T) {
	rec := &fakeRecorder{}
	sess := &fakeSession{callText: "ok"}
	m := NewManager(Config{Servers: map[string]ServerConfig{"srv": remoteConfig()}},
		WithDialer(staticDialer(map[string]connectResult{
			"srv": {state: connectingState(), session: sess, tools: []mcp.Tool{namedTool("echo")}},
		})),
		WithRecorder(rec))
	defer m.Cleanup(context.Background())
	m.Initialize(context.Background())

	_, err := m.Execute(context.Background(), "srv_echo", "")
	require.NoError(t, err)

	sess.callErr = errors.New("boom")
	_, err = m.Execute(context.Background(), "srv_echo", "")
	require.Error(t, err)

	assert.Equal(t, []string{"srv_echo", "srv_echo"}, rec.entries)
	assert.Equal(t, []bool{false, true}, rec.failed)
}

func TestCleanupClosesEverySession(t *testing.T) {
	s1 := &fakeSession{}
	s2 := &fakeSession{closeErr: errors.New("close failed")}
	m := NewManager(Config{Servers: map[string]ServerConfig{
		"s1": remoteConfig(),
		"s2": remoteConfig(),
	}}, WithDialer(staticDialer(map[string]connectResult{
		"s1": {state: connectingState(), session: s1, tools: []mcp.Tool{namedTool("a")}},
		"s2": {state: connectingState(), session: s2, tools: []mcp.Tool{namedTool("b")}},
	})))
	m.Initialize(context.Background())

	err := m.Cleanup(context.Background())

	// One session failing to close does not stop the other from closing.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
	assert.Equal(t, int32(1), s1.closed.Load())
	assert.Equal(t, int32(1), s2.closed.Load())
	assert.Empty(t, m.ToolIDs())
}

func TestRefreshReconnects(t *testing.T) {
	first := &fakeSession{}
	second := &fakeSession{}
	var dials atomic.Int32
	m := NewManager(Config{Servers: map[string]ServerConfig{"srv": remoteConfig()}},
		WithDialer(func(context.Context, string, ServerConfig) connectResult {
			if dials.Add(1) == 1 {
				return connectResult{state: connectingState(), session: first, tools: []mcp.Tool{namedTool("v1")}}
			}
			return connectResult{state: connectingState(), session: second, tools: []mcp.Tool{namedTool("v2")}}
		}))
	defer m.Cleanup(context.Background())

	m.Initialize(context.Background())
	require.Equal(t, []string{"srv_v1"}, m.ToolIDs())

	require.NoError(t, m.Refresh(context.Background(), "srv"))

	assert.Equal(t, []string{"srv_v2"}, m.ToolIDs())
	assert.Equal(t, int32(1), first.closed.Load())
	assert.Equal(t, int32(2), dials.Load())
}

func TestRefreshUnknownServer(t *testing.T) {
	m := NewManager(Config{Servers: map[string]ServerConfig{}})
	err := m.Refresh(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown server")
}
