package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/quillhq/quill/pkg/logger"
	llmtypes "github.com/quillhq/quill/pkg/types/llm"
)

// structuredSchemaURL is the synthetic resource name the inline schema is
// compiled under.
const structuredSchemaURL = "inline://structured-output.json"

// StructuredProvider forces a wrapped provider's assistant output to
// validate against a JSON Schema, re-running the entire underlying call on
// violation. Non-assistant chunks pass through immediately; assistant chunks
// are buffered until the stream ends and emitted as one validated chunk.
type StructuredProvider struct {
	inner  llmtypes.Provider
	cfg    llmtypes.StructuredConfig
	schema *jsonschema.Schema
}

var _ llmtypes.Provider = &StructuredProvider{}

// NewStructuredProvider compiles the configured schema and wraps the
// provider. The schema must be a valid JSON Schema document.
func NewStructuredProvider(inner llmtypes.Provider, cfg llmtypes.StructuredConfig) (*StructuredProvider, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(cfg.Schema))
	if err != nil {
		return nil, errors.Wrap(err, "schema is not valid JSON")
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(structuredSchemaURL, doc); err != nil {
		return nil, errors.Wrap(err, "failed to register schema")
	}
	schema, err := compiler.Compile(structuredSchemaURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile schema")
	}

	return &StructuredProvider{inner: inner, cfg: cfg, schema: schema}, nil
}

// Name marks the provider as structured-output-wrapped.
func (p *StructuredProvider) Name() string {
	return "structured-" + p.inner.Name()
}

// Stream runs the wrapped call up to cfg.MaxRetries total times, emitting
// the first assistant payload that validates. Exhausting every attempt
// surfaces a fatal terminal error naming the retry count.
func (p *StructuredProvider) Stream(ctx context.Context, req llmtypes.Request) (<-chan llmtypes.Chunk, error) {
	maxCalls := p.cfg.MaxRetries
	if maxCalls <= 0 {
		maxCalls = 1
	}

	out := make(chan llmtypes.Chunk, streamBuffer)
	go func() {
		defer close(out)

		var lastErr error
		for call := 1; call <= maxCalls; call++ {
			payload, err := p.attempt(ctx, req, out)
			if err == nil {
				out <- llmtypes.Chunk{Type: llmtypes.ChunkTypeAssistant, Content: payload}
				return
			}
			lastErr = err
			logger.G(ctx).WithError(err).
				WithField("provider", p.inner.Name()).
				WithField("call", call).
				Warn("structured output invalid, re-running call")

			if call < maxCalls {
				if waitErr := p.wait(ctx, call); waitErr != nil {
					lastErr = waitErr
					break
				}
			}
		}

		out <- llmtypes.Chunk{
			Type:    llmtypes.ChunkTypeError,
			Content: fmt.Sprintf("fatal: structured output from %s still invalid after %d retries: %s", p.inner.Name(), maxCalls, lastErr.Error()),
		}
	}()
	return out, nil
}

// attempt runs one underlying call, passing non-assistant chunks straight
// through and returning the validated assistant payload.
func (p *StructuredProvider) attempt(ctx context.Context, req llmtypes.Request, out chan<- llmtypes.Chunk) (string, error) {
	stream, err := p.inner.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	var buffered strings.Builder
	for chunk := range stream {
		if chunk.Type == llmtypes.ChunkTypeAssistant {
			buffered.WriteString(chunk.Content)
			continue
		}
		out <- chunk
	}

	payload := buffered.String()
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "assistant output is not valid JSON")
	}
	if err := p.schema.Validate(instance); err != nil {
		return "", errors.Wrap(err, "assistant output violates schema")
	}
	return payload, nil
}

// wait sleeps between attempts, honoring cancellation. Backoff doubles the
// initial delay per completed call when enabled.
func (p *StructuredProvider) wait(ctx context.Context, completedCalls int) error {
	delay := defaultInitialDelay
	if p.cfg.Backoff {
		delay = defaultInitialDelay << (completedCalls - 1)
		if delay > defaultMaxDelay {
			delay = defaultMaxDelay
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
