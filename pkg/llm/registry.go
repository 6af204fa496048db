package llm

import (
	"github.com/pkg/errors"

	"github.com/quillhq/quill/pkg/llm/anthropic"
	"github.com/quillhq/quill/pkg/llm/openai"
	llmtypes "github.com/quillhq/quill/pkg/types/llm"
)

// DefaultProvider is used when the config names none.
const DefaultProvider = "anthropic"

// NewProvider returns the named base provider.
func NewProvider(name string) (llmtypes.Provider, error) {
	switch name {
	case "", DefaultProvider:
		return anthropic.New(), nil
	case "openai":
		return openai.New(), nil
	default:
		return nil, errors.Errorf("unknown provider %q (supported: anthropic, openai)", name)
	}
}

// Decorate layers the configured decorators over a base provider. The
// reliability wrapper always applies (zero retries degrade it to a
// pass-through); the structured-output wrapper applies when a schema is
// configured.
func Decorate(base llmtypes.Provider, retryCfg llmtypes.RetryConfig, structuredCfg llmtypes.StructuredConfig) (llmtypes.Provider, error) {
	var provider llmtypes.Provider = NewReliableProvider(base, retryCfg)
	if structuredCfg.Schema != "" {
		structured, err := NewStructuredProvider(provider, structuredCfg)
		if err != nil {
			return nil, err
		}
		provider = structured
	}
	return provider, nil
}
