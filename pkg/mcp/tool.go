package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	tooltypes "github.com/quillhq/quill/pkg/types/tools"
)

var (
	_ tooltypes.Tool = &RemoteTool{}

	toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// toolCaller is the session surface a bound tool needs.
type toolCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// RemoteTool exposes one server-side tool as a locally callable tool. Its
// catalog identity is "<server>_<tool>"; calls go out under the original
// unprefixed name.
type RemoteTool struct {
	server      string
	toolName    string
	description string
	inputSchema json.RawMessage
	timeout     time.Duration
	caller      toolCaller
}

// newRemoteTool validates the descriptor and binds it to its session.
func newRemoteTool(server string, tool mcp.Tool, caller toolCaller, timeout time.Duration) (*RemoteTool, error) {
	name := tool.GetName()
	if !toolNamePattern.MatchString(name) {
		return nil, errors.Errorf("invalid tool name %q: must be non-empty alphanumerics, dash, or underscore", name)
	}

	schema, err := tool.InputSchema.MarshalJSON()
	if err != nil {
		return nil, errors.Wrapf(err, "tool %s has an unusable input schema", name)
	}
	if tool.InputSchema.Type != "" && tool.InputSchema.Type != "object" {
		return nil, errors.Errorf("tool %s input schema must be object-shaped, got %q", name, tool.InputSchema.Type)
	}

	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return &RemoteTool{
		server:      server,
		toolName:    name,
		description: tool.Description,
		inputSchema: schema,
		timeout:     timeout,
		caller:      caller,
	}, nil
}

// Name returns the catalog identity, unique across servers.
func (t *RemoteTool) Name() string {
	return fmt.Sprintf("%s_%s", t.server, t.toolName)
}

// Server returns the owning server name.
func (t *RemoteTool) Server() string {
	return t.server
}

func (t *RemoteTool) Description() string {
	return t.description
}

// GenerateSchema reproduces the server-declared input schema. A schema that
// cannot be decoded degrades to a permissive object schema rather than
// hiding the tool.
func (t *RemoteTool) GenerateSchema() *jsonschema.Schema {
	var schema jsonschema.Schema
	if err := json.Unmarshal(t.inputSchema, &schema); err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return &schema
}

// ValidateInput requires parameters to be absent or a JSON object.
func (t *RemoteTool) ValidateInput(parameters string) error {
	if parameters == "" {
		return nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(parameters), &input); err != nil {
		return errors.Wrapf(err, "parameters for %s must be a JSON object", t.Name())
	}
	return nil
}

func (t *RemoteTool) TracingKVs(parameters string) ([]attribute.KeyValue, error) {
	return []attribute.KeyValue{
		attribute.String("mcp.server", t.server),
		attribute.String("mcp.tool", t.toolName),
	}, nil
}

// Execute forwards the call to the owning session, racing it against the
// tool timeout. A timeout abandons the call from the caller's perspective;
// the in-flight server-side operation is not guaranteed to be cancelled.
func (t *RemoteTool) Execute(ctx context.Context, parameters string) tooltypes.ToolResult {
	input := map[string]any{}
	if parameters != "" {
		if err := json.Unmarshal([]byte(parameters), &input); err != nil {
			return tooltypes.ToolResult{Error: errors.Wrapf(err, "invalid parameters for %s", t.Name()).Error()}
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.toolName
	req.Params.Arguments = input

	type outcome struct {
		result *mcp.CallToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := t.caller.CallTool(ctx, req)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return tooltypes.ToolResult{Error: errors.Wrapf(ctx.Err(), "tool %s cancelled", t.Name()).Error()}
	case <-timer.C:
		return tooltypes.ToolResult{Error: fmt.Sprintf("tool %s timed out after %s", t.Name(), t.timeout)}
	case out := <-done:
		if out.err != nil {
			return tooltypes.ToolResult{Error: errors.Wrapf(out.err, "tool %s failed", t.Name()).Error()}
		}
		content := flattenContent(out.result)
		if out.result.IsError {
			return tooltypes.ToolResult{Error: fmt.Sprintf("tool %s failed: %s", t.Name(), content)}
		}
		return tooltypes.ToolResult{Result: content}
	}
}

func flattenContent(result *mcp.CallToolResult) string {
	content := ""
	for _, c := range result.Content {
		if v, ok := c.(mcp.TextContent); ok {
			content += v.Text
		} else {
			content += fmt.Sprintf("%v", c)
		}
	}
	return content
}
