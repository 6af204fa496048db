package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	mu     sync.Mutex
	last   mcp.CallToolRequest
	result *mcp.CallToolResult
	err    error
	block  chan struct{}
}

func (f *fakeCaller) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeCaller) lastRequest() mcp.CallToolRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func TestNewRemoteToolValidation(t *testing.T) {
	caller := &fakeCaller{}

	tests := []struct {
		name    string
		tool    mcp.Tool
		wantErr string
	}{
		{
			name: "valid",
			tool: mcp.Tool{Name: "get_issue", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		},
		{
			name: "valid with dashes and underscores",
			tool: mcp.Tool{Name: "get-issue_v2", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		},
		{
			name:    "empty name",
			tool:    mcp.Tool{Name: ""},
			wantErr: "invalid tool name",
		},
		{
			name:    "name with spaces",
			tool:    mcp.Tool{Name: "get issue"},
			wantErr: "invalid tool name",
		},
		{
			name:    "non-object schema",
			tool:    mcp.Tool{Name: "bad_schema", InputSchema: mcp.ToolInputSchema{Type: "array"}},
			wantErr: "must be object-shaped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, err := newRemoteTool("srv", tt.tool, caller, 0)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "srv_"+tt.tool.Name, tool.Name())
			assert.Equal(t, "srv", tool.Server())
		})
	}
}

func TestExecuteSendsUnprefixedNameAndEmptyObject(t *testing.T) {
	caller := &fakeCaller{result: mcp.NewToolResultText("done")}
	tool, err := newRemoteTool("srv", namedTool("echo"), caller, time.Second)
	require.NoError(t, err)

	result := tool.Execute(context.Background(), "")
	require.False(t, result.IsError(), result.Error)
	assert.Equal(t, "done", result.Result)

	req := caller.lastRequest()
	assert.Equal(t, "echo", req.Params.Name)
	assert.Equal(t, map[string]any{}, req.Params.Arguments)
}

func TestExecutePassesArguments(t *testing.T) {
	caller := &fakeCaller{result: mcp.NewToolResultText("ok")}
	tool, err := newRemoteTool("srv", namedTool("echo"), caller, time.Second)
	require.NoError(t, err)

	result := tool.Execute(context.Background(), `{"owner":"quillhq","repo":"quill"}`)
	require.False(t, result.IsError(), result.Error)

	req := caller.lastRequest()
	assert.Equal(t, map[string]any{"owner": "quillhq", "repo": "quill"}, req.Params.Arguments)
}

func TestExecuteTimesOut(t *testing.T) {
	caller := &fakeCaller{block: make(chan struct{})}
	defer close(caller.block)

	tool, err := newRemoteTool("srv", namedTool("slow"), caller, 20*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	result := tool.Execute(context.Background(), "{}")

	require.True(t, result.IsError())
	assert.Contains(t, result.Error, "srv_slow timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteWrapsFailureWithToolIdentity(t *testing.T) {
	caller := &fakeCaller{err: errors.New("connection reset")}
	tool, err := newRemoteTool("srv", namedTool("flaky"), caller, time.Second)
	require.NoError(t, err)

	result := tool.Execute(context.Background(), "{}")
	require.True(t, result.IsError())
	assert.Contains(t, result.Error, "srv_flaky")
	assert.Contains(t, result.Error, "connection reset")
}

func TestExecuteSurfacesServerSideError(t *testing.T) {
	caller := &fakeCaller{result: mcp.NewToolResultError("repo not found")}
	tool, err := newRemoteTool("srv", namedTool("lookup"), caller, time.Second)
	require.NoError(t, err)

	result := tool.Execute(context.Background(), "{}")
	require.True(t, result.IsError())
	assert.Contains(t, result.Error, "repo not found")
}

func TestExecuteRejectsMalformedParameters(t *testing.T) {
	caller := &fakeCaller{result: mcp.NewToolResultText("unreachable")}
	tool, err := newRemoteTool("srv", namedTool("echo"), caller, time.Second)
	require.NoError(t, err)

	result := tool.Execute(context.Background(), "not json")
	require.True(t, result.IsError())
	assert.Contains(t, result.Error, "invalid parameters")
}

func TestValidateInput(t *testing.T) {
	tool, err := newRemoteTool("srv", namedTool("echo"), &fakeCaller{}, time.Second)
	require.NoError(t, err)

	assert.NoError(t, tool.ValidateInput(""))
	assert.NoError(t, tool.ValidateInput(`{"a":1}`))
	assert.Error(t, tool.ValidateInput(`[1,2]`))
	assert.Error(t, tool.ValidateInput("nope"))
}

func TestGenerateSchemaReflectsServerSchema(t *testing.T) {
	desc := mcp.Tool{
		Name: "get_issue",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"number": map[string]any{"type": "integer"},
			},
			Required: []string{"number"},
		},
	}
	tool, err := newRemoteTool("srv", desc, &fakeCaller{}, time.Second)
	require.NoError(t, err)

	schema := tool.GenerateSchema()
	require.NotNil(t, schema)
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"number"}, schema.Required)
}

func TestTracingKVs(t *testing.T) {
	tool, err := newRemoteTool("srv", namedTool("echo"), &fakeCaller{}, time.Second)
	require.NoError(t, err)

	kvs, err := tool.TracingKVs("{}")
	require.NoError(t, err)
	assert.Len(t, kvs, 2)
}
