// Package llm defines the provider abstraction and the chunk stream emitted
// by streaming provider calls. A stream is finite and non-restartable: the
// producer closes the channel after a terminal result or error chunk, and
// consumers treat that terminal chunk as end-of-stream.
package llm

import "context"

// ChunkType identifies the kind of a streamed chunk.
type ChunkType string

const (
	ChunkTypeSystem    ChunkType = "system"
	ChunkTypeAssistant ChunkType = "assistant"
	ChunkTypeThinking  ChunkType = "thinking"
	ChunkTypeTool      ChunkType = "tool"
	ChunkTypeResult    ChunkType = "result"
	ChunkTypeError     ChunkType = "error"
)

// Known reports whether the chunk type is one of the recognized kinds.
func (t ChunkType) Known() bool {
	switch t {
	case ChunkTypeSystem, ChunkTypeAssistant, ChunkTypeThinking,
		ChunkTypeTool, ChunkTypeResult, ChunkTypeError:
		return true
	}
	return false
}

// Terminal reports whether the chunk ends the stream.
func (t ChunkType) Terminal() bool {
	return t == ChunkTypeResult || t == ChunkTypeError
}

// Chunk is one streamed unit of a provider response.
type Chunk struct {
	Type      ChunkType
	Content   string
	SessionID string
	ToolName  string
}

// Request describes a single provider invocation.
type Request struct {
	Prompt    string
	System    string
	Model     string
	MaxTokens int
}

// Provider is a streaming call source. Stream returns a finite channel of
// chunks; the returned error covers failures to start the call, while
// mid-call failures surface as a terminal error chunk.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// RetryConfig configures the reliability decorator.
type RetryConfig struct {
	// Attempts is the number of retries after the initial call; 0 disables
	// retrying entirely.
	Attempts int `mapstructure:"attempts"`
	// Backoff enables exponential backoff between attempts; when false a
	// fixed minimal delay is used.
	Backoff bool `mapstructure:"backoff"`
	// InitialDelay is the delay before the first retry in milliseconds.
	InitialDelay int `mapstructure:"initial_delay"`
	// MaxDelay caps the backoff delay in milliseconds.
	MaxDelay int `mapstructure:"max_delay"`
	// ValidateContract enables structural checks on the chunk stream.
	ValidateContract bool `mapstructure:"validate_contract"`
}

// StructuredConfig configures the structured-output decorator.
type StructuredConfig struct {
	// MaxRetries is the total number of underlying calls allowed before the
	// decorator gives up.
	MaxRetries int `mapstructure:"max_retries"`
	// Backoff enables exponential backoff between attempts.
	Backoff bool `mapstructure:"backoff"`
	// Schema is the target JSON Schema as a JSON document.
	Schema string `mapstructure:"schema"`
}
