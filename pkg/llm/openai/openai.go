// Package openai adapts the OpenAI chat-completions streaming API to the
// common chunk stream.
package openai

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	llmtypes "github.com/quillhq/quill/pkg/types/llm"
)

const defaultModel = openai.GPT4o

// Provider streams chat-completion deltas as assistant chunks.
type Provider struct {
	client *openai.Client
}

var _ llmtypes.Provider = &Provider{}

// New creates a provider using ambient credentials (OPENAI_API_KEY).
func New() *Provider {
	return &Provider{client: openai.NewClient(os.Getenv("OPENAI_API_KEY"))}
}

func (p *Provider) Name() string {
	return "openai"
}

func (p *Provider) Stream(ctx context.Context, req llmtypes.Request) (<-chan llmtypes.Chunk, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	request := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = req.MaxTokens
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start openai stream")
	}

	out := make(chan llmtypes.Chunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		sessionID := uuid.NewString()
		out <- llmtypes.Chunk{
			Type:      llmtypes.ChunkTypeSystem,
			Content:   "model: " + model,
			SessionID: sessionID,
		}

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- llmtypes.Chunk{Type: llmtypes.ChunkTypeResult, SessionID: sessionID}
				return
			}
			if err != nil {
				out <- llmtypes.Chunk{
					Type:      llmtypes.ChunkTypeError,
					Content:   errors.Wrap(err, "openai stream failed").Error(),
					SessionID: sessionID,
				}
				return
			}
			if len(response.Choices) == 0 {
				continue
			}
			if delta := response.Choices[0].Delta.Content; delta != "" {
				out <- llmtypes.Chunk{
					Type:      llmtypes.ChunkTypeAssistant,
					Content:   delta,
					SessionID: sessionID,
				}
			}
		}
	}()
	return out, nil
}
