// Package llm constructs the language model used for fact extraction.
package llm

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/distill/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// NewModel creates a langchaingo model from configuration.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		return model, nil

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("OpenAI API key required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
