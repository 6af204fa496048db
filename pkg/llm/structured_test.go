package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmtypes "github.com/quillhq/quill/pkg/types/llm"
)

const messageSchema = `{"type":"object","required":["message"]}`

func assistantChunks(chunks []llmtypes.Chunk) []llmtypes.Chunk {
	var out []llmtypes.Chunk
	for _, chunk := range chunks {
		if chunk.Type == llmtypes.ChunkTypeAssistant {
			out = append(out, chunk)
		}
	}
	return out
}

func TestStructuredName(t *testing.T) {
	p, err := NewStructuredProvider(&scriptedProvider{name: "anthropic"}, llmtypes.StructuredConfig{Schema: messageSchema})
	require.NoError(t, err)
	assert.Equal(t, "structured-anthropic", p.Name())
}

func TestStructuredRejectsBadSchema(t *testing.T) {
	_, err := NewStructuredProvider(&scriptedProvider{}, llmtypes.StructuredConfig{Schema: "{not json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestStructuredRetriesUntilValid(t *testing.T) {
	src := &scriptedProvider{script: func(call int) ([]llmtypes.Chunk, error) {
		if call == 1 {
			return []llmtypes.Chunk{
				{Type: llmtypes.ChunkTypeAssistant, Content: `{"wrong":"field"}`, SessionID: "s"},
				{Type: llmtypes.ChunkTypeResult, SessionID: "s"},
			}, nil
		}
		return []llmtypes.Chunk{
			{Type: llmtypes.ChunkTypeAssistant, Content: `{"message":"ok"}`, SessionID: "s"},
			{Type: llmtypes.ChunkTypeResult, SessionID: "s"},
		}, nil
	}}
	p, err := NewStructuredProvider(src, llmtypes.StructuredConfig{Schema: messageSchema, MaxRetries: 2})
	require.NoError(t, err)

	stream, err := p.Stream(context.Background(), llmtypes.Request{})
	require.NoError(t, err)
	chunks := collect(t, stream)

	assert.Equal(t, int32(2), src.calls.Load())

	emitted := assistantChunks(chunks)
	require.Len(t, emitted, 1)
	assert.Equal(t, `{"message":"ok"}`, emitted[0].Content)

	// No terminal error chunk on success.
	for _, chunk := range chunks {
		assert.NotEqual(t, llmtypes.ChunkTypeError, chunk.Type)
	}
}

func TestStructuredParseFailureTriggersRetry(t *testing.T) {
	src := &scriptedProvider{script: func(call int) ([]llmtypes.Chunk, error) {
		if call == 1 {
			return []llmtypes.Chunk{
				{Type: llmtypes.ChunkTypeAssistant, Content: "sure! here is your JSON:", SessionID: "s"},
				{Type: llmtypes.ChunkTypeResult, SessionID: "s"},
			}, nil
		}
		return []llmtypes.Chunk{
			{Type: llmtypes.ChunkTypeAssistant, Content: `{"message":"ok"}`, SessionID: "s"},
			{Type: llmtypes.ChunkTypeResult, SessionID: "s"},
		}, nil
	}}
	p, err := NewStructuredProvider(src, llmtypes.StructuredConfig{Schema: messageSchema, MaxRetries: 3})
	require.NoError(t, err)

	stream, err := p.Stream(context.Background(), llmtypes.Request{})
	require.NoError(t, err)
	chunks := collect(t, stream)

	assert.Equal(t, int32(2), src.calls.Load())
	emitted := assistantChunks(chunks)
	require.Len(t, emitted, 1)
	assert.Equal(t, `{"message":"ok"}`, emitted[0].Content)
}

func TestStructuredExhaustionIsFatal(t *testing.T) {
	src := &scriptedProvider{script: func(int) ([]llmtypes.Chunk, error) {
		return []llmtypes.Chunk{
			{Type: llmtypes.ChunkTypeAssistant, Content: `{"wrong":"field"}`, SessionID: "s"},
			{Type: llmtypes.ChunkTypeResult, SessionID: "s"},
		}, nil
	}}
	p, err := NewStructuredProvider(src, llmtypes.StructuredConfig{Schema: messageSchema, MaxRetries: 2})
	require.NoError(t, err)

	stream, err := p.Stream(context.Background(), llmtypes.Request{})
	require.NoError(t, err)
	chunks := collect(t, stream)

	assert.Equal(t, int32(2), src.calls.Load())
	assert.Empty(t, assistantChunks(chunks))

	last := chunks[len(chunks)-1]
	assert.Equal(t, llmtypes.ChunkTypeError, last.Type)
	assert.Contains(t, last.Content, "fatal")
	assert.Contains(t, last.Content, "after 2 retries")
}

func TestStructuredPassesNonAssistantChunksThrough(t *testing.T) {
	src := &scriptedProvider{script: func(int) ([]llmtypes.Chunk, error) {
		return []llmtypes.Chunk{
			{Type: llmtypes.ChunkTypeSystem, Content: "model: x", SessionID: "s"},
			{Type: llmtypes.ChunkTypeTool, Content: "lookup", ToolName: "srv_lookup", SessionID: "s"},
			{Type: llmtypes.ChunkTypeAssistant, Content: `{"message":"ok"}`, SessionID: "s"},
			{Type: llmtypes.ChunkTypeResult, SessionID: "s"},
		}, nil
	}}
	p, err := NewStructuredProvider(src, llmtypes.StructuredConfig{Schema: messageSchema, MaxRetries: 1})
	require.NoError(t, err)

	stream, err := p.Stream(context.Background(), llmtypes.Request{})
	require.NoError(t, err)
	chunks := collect(t, stream)

	require.Len(t, chunks, 4)
	assert.Equal(t, llmtypes.ChunkTypeSystem, chunks[0].Type)
	assert.Equal(t, llmtypes.ChunkTypeTool, chunks[1].Type)
	assert.Equal(t, llmtypes.ChunkTypeResult, chunks[2].Type)
	// The validated assistant payload is emitted once, after the stream ends.
	assert.Equal(t, llmtypes.ChunkTypeAssistant, chunks[3].Type)
}

func TestDecorateLayersProviders(t *testing.T) {
	base := &scriptedProvider{name: "anthropic"}

	plain, err := Decorate(base, llmtypes.RetryConfig{}, llmtypes.StructuredConfig{})
	require.NoError(t, err)
	assert.Equal(t, "reliable-anthropic", plain.Name())

	structured, err := Decorate(base, llmtypes.RetryConfig{}, llmtypes.StructuredConfig{Schema: messageSchema})
	require.NoError(t, err)
	assert.Equal(t, "structured-reliable-anthropic", structured.Name())
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider("cobol-llm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
