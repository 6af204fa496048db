// Package anthropic adapts the Anthropic Messages API to the common chunk
// stream.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	llmtypes "github.com/quillhq/quill/pkg/types/llm"
)

const (
	defaultModel     = string(anthropic.ModelClaudeSonnet4_20250514)
	defaultMaxTokens = 4096
)

// Provider is a thin non-streaming adapter: it performs one Messages call
// and replays the response blocks as chunks.
type Provider struct {
	client anthropic.Client
}

var _ llmtypes.Provider = &Provider{}

// New creates a provider using ambient credentials (ANTHROPIC_API_KEY).
func New() *Provider {
	return &Provider{client: anthropic.NewClient()}
}

func (p *Provider) Name() string {
	return "anthropic"
}

func (p *Provider) Stream(ctx context.Context, req llmtypes.Request) (<-chan llmtypes.Chunk, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Model:     anthropic.Model(model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	out := make(chan llmtypes.Chunk, 16)
	go func() {
		defer close(out)
		sessionID := uuid.NewString()
		out <- llmtypes.Chunk{
			Type:      llmtypes.ChunkTypeSystem,
			Content:   fmt.Sprintf("model: %s", model),
			SessionID: sessionID,
		}

		response, err := p.client.Messages.New(ctx, params)
		if err != nil {
			out <- llmtypes.Chunk{
				Type:      llmtypes.ChunkTypeError,
				Content:   errors.Wrap(err, "anthropic call failed").Error(),
				SessionID: sessionID,
			}
			return
		}

		for _, block := range response.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				out <- llmtypes.Chunk{
					Type:      llmtypes.ChunkTypeAssistant,
					Content:   variant.Text,
					SessionID: sessionID,
				}
			case anthropic.ThinkingBlock:
				out <- llmtypes.Chunk{
					Type:      llmtypes.ChunkTypeThinking,
					Content:   variant.Thinking,
					SessionID: sessionID,
				}
			}
		}
		out <- llmtypes.Chunk{Type: llmtypes.ChunkTypeResult, SessionID: sessionID}
	}()
	return out, nil
}
