// Package llm composes streaming providers with reliability and
// structured-output decorators and exposes the provider registry.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/quillhq/quill/pkg/logger"
	llmtypes "github.com/quillhq/quill/pkg/types/llm"
)

const (
	// streamBuffer sizes the output channel of decorated streams.
	streamBuffer = 16
	// defaultInitialDelay is the delay before the first retry when the
	// config does not set one.
	defaultInitialDelay = 500 * time.Millisecond
	// defaultMaxDelay caps exponential backoff when the config does not set
	// a cap.
	defaultMaxDelay = 10 * time.Second
)

// nonRetryablePatterns mark errors that retrying cannot fix: the caller has
// to re-authenticate or is addressing something that does not exist.
var nonRetryablePatterns = []string{"auth", "unauthorized", "401", "404", "not found"}

// ReliableProvider retries a wrapped provider's calls on transient failure.
// Each attempt is buffered until it settles so a retried attempt never leaks
// partial chunks to the caller.
type ReliableProvider struct {
	inner llmtypes.Provider
	cfg   llmtypes.RetryConfig
}

var _ llmtypes.Provider = &ReliableProvider{}

// NewReliableProvider wraps a provider with retry behavior.
func NewReliableProvider(inner llmtypes.Provider, cfg llmtypes.RetryConfig) *ReliableProvider {
	return &ReliableProvider{inner: inner, cfg: cfg}
}

// Name marks the provider as reliability-wrapped.
func (p *ReliableProvider) Name() string {
	return "reliable-" + p.inner.Name()
}

// Stream runs the wrapped call with up to cfg.Attempts retries. With zero
// retries configured it passes the stream through, rewording any failure as
// "failed after 0 retry attempts".
func (p *ReliableProvider) Stream(ctx context.Context, req llmtypes.Request) (<-chan llmtypes.Chunk, error) {
	if p.cfg.Attempts == 0 {
		return p.passthrough(ctx, req)
	}

	out := make(chan llmtypes.Chunk, streamBuffer)
	go func() {
		defer close(out)

		var (
			chunks   []llmtypes.Chunk
			attempts int
		)
		err := retry.Do(
			func() error {
				attempts++
				collected, err := p.attempt(ctx, req)
				if err != nil {
					return err
				}
				chunks = collected
				return nil
			},
			retry.Attempts(uint(p.cfg.Attempts+1)),
			retry.Delay(p.initialDelay()),
			retry.DelayType(p.delayType()),
			retry.MaxDelay(p.maxDelay()),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				logger.G(ctx).WithError(err).
					WithField("provider", p.inner.Name()).
					WithField("attempt", n+1).
					Warn("retrying provider call")
			}),
		)
		if err != nil {
			out <- llmtypes.Chunk{
				Type:    llmtypes.ChunkTypeError,
				Content: fmt.Sprintf("provider %s failed after %d attempts: %s", p.inner.Name(), attempts, err.Error()),
			}
			return
		}
		for _, chunk := range chunks {
			out <- chunk
		}
	}()
	return out, nil
}

// passthrough relays the stream without retrying; failures are reported with
// the zero-retry wording so the caller knows retries were disabled.
func (p *ReliableProvider) passthrough(ctx context.Context, req llmtypes.Request) (<-chan llmtypes.Chunk, error) {
	inner, err := p.inner.Stream(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "provider %s failed after 0 retry attempts", p.inner.Name())
	}

	out := make(chan llmtypes.Chunk, streamBuffer)
	go func() {
		defer close(out)
		for chunk := range inner {
			if chunk.Type == llmtypes.ChunkTypeError {
				chunk.Content = fmt.Sprintf("provider %s failed after 0 retry attempts: %s", p.inner.Name(), chunk.Content)
			}
			out <- chunk
		}
	}()
	return out, nil
}

// attempt runs one underlying call to completion, buffering its chunks. A
// terminal error chunk, a start failure, or (when enabled) a contract
// violation fails the attempt; non-retryable failures are marked
// unrecoverable so retry.Do stops immediately.
func (p *ReliableProvider) attempt(ctx context.Context, req llmtypes.Request) ([]llmtypes.Chunk, error) {
	stream, err := p.inner.Stream(ctx, req)
	if err != nil {
		return nil, p.classify(err)
	}

	var chunks []llmtypes.Chunk
	for chunk := range stream {
		if p.cfg.ValidateContract {
			if err := validateChunk(chunk); err != nil {
				return nil, retry.Unrecoverable(errors.Wrapf(err, "reliability issue with %s", p.inner.Name()))
			}
		}
		if chunk.Type == llmtypes.ChunkTypeError {
			return nil, p.classify(errors.New(chunk.Content))
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// classify marks authentication and not-found failures unrecoverable.
func (p *ReliableProvider) classify(err error) error {
	msg := strings.ToLower(err.Error())
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(msg, pattern) {
			return retry.Unrecoverable(errors.Wrapf(err, "reliability issue with %s: non-retryable failure", p.inner.Name()))
		}
	}
	return err
}

// validateChunk checks the structural contract of a streamed chunk.
func validateChunk(chunk llmtypes.Chunk) error {
	if !chunk.Type.Known() {
		return errors.Errorf("contract violation: unknown chunk type %q", chunk.Type)
	}
	if chunk.Type == llmtypes.ChunkTypeResult && chunk.SessionID == "" {
		return errors.New("contract violation: result chunk missing session id")
	}
	return nil
}

func (p *ReliableProvider) initialDelay() time.Duration {
	if p.cfg.InitialDelay > 0 {
		return time.Duration(p.cfg.InitialDelay) * time.Millisecond
	}
	return defaultInitialDelay
}

func (p *ReliableProvider) maxDelay() time.Duration {
	if p.cfg.MaxDelay > 0 {
		return time.Duration(p.cfg.MaxDelay) * time.Millisecond
	}
	return defaultMaxDelay
}

func (p *ReliableProvider) delayType() retry.DelayTypeFunc {
	if p.cfg.Backoff {
		return retry.BackOffDelay
	}
	return retry.FixedDelay
}
