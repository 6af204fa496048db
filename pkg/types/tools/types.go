// Package tools defines the tool abstraction shared by native tools and
// tools discovered from MCP servers.
package tools

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// Tool is a callable capability exposed to the model. Implementations are
// either native (skills) or adapters bound to a live MCP session.
type Tool interface {
	Name() string
	Description() string
	GenerateSchema() *jsonschema.Schema
	ValidateInput(parameters string) error
	Execute(ctx context.Context, parameters string) ToolResult
	TracingKVs(parameters string) ([]attribute.KeyValue, error)
}

// ToolResult carries the outcome of a tool execution. Exactly one of Result
// and Error is expected to be set.
type ToolResult struct {
	Result string `json:"result"`
	Error  string `json:"error"`
}

func (t *ToolResult) String() string {
	out := ""
	if t.Error != "" {
		out = fmt.Sprintf(`<error>
%s
</error>
`, t.Error)
	}
	if t.Result != "" {
		out += fmt.Sprintf(`<result>
%s
</result>
`, t.Result)
	}
	return out
}

// IsError reports whether the execution failed
func (t *ToolResult) IsError() bool {
	return t.Error != ""
}
