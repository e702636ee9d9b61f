// Package providers builds llm.Clients from resolved ClientKeys.
package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/aschepis/backscratcher/lifebook/llm"
	llmanthropic "github.com/aschepis/backscratcher/lifebook/llm/anthropic"
	llmgemini "github.com/aschepis/backscratcher/lifebook/llm/gemini"
	llmollama "github.com/aschepis/backscratcher/lifebook/llm/ollama"
	llmopenai "github.com/aschepis/backscratcher/lifebook/llm/openai"
	"github.com/rs/zerolog"
)

// Factory creates provider clients and caches them by key.
type Factory struct {
	logger zerolog.Logger
	mu     sync.RWMutex
	cache  map[string]llm.Client
}

// NewFactory returns an empty Factory.
func NewFactory(logger zerolog.Logger) *Factory {
	return &Factory{
		logger: logger.With().Str("component", "llmFactory").Logger(),
		cache:  make(map[string]llm.Client),
	}
}

// Client returns the cached client for key, creating it on first use.
func (f *Factory) Client(ctx context.Context, key *llm.ClientKey) (llm.Client, error) {
	if key == nil {
		return nil, fmt.Errorf("client key is required")
	}
	keyStr := fmt.Sprintf("%s:%s:%s:%s:%s:%s", key.Provider, key.Model, key.APIKey, key.Host, key.BaseURL, key.Organization)

	f.mu.RLock()
	if client, ok := f.cache[keyStr]; ok {
		f.mu.RUnlock()
		return client, nil
	}
	f.mu.RUnlock()

	// No lock held while the SDK client is built.
	client, err := New(ctx, key, f.logger)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.cache[keyStr]; ok {
		return existing, nil
	}
	f.cache[keyStr] = client
	f.logger.Debug().Str("provider", key.Provider).Str("model", key.Model).Msg("Created LLM client")
	return client, nil
}

// New builds an uncached client for key.
func New(ctx context.Context, key *llm.ClientKey, logger zerolog.Logger) (llm.Client, error) {
	switch key.Provider {
	case llm.ProviderAnthropic:
		client, err := llmanthropic.NewAnthropicClient(key.APIKey, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		return client, nil

	case llm.ProviderGemini:
		client, err := llmgemini.NewGeminiClient(ctx, key.APIKey, key.Model, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return client, nil

	case llm.ProviderOllama:
		client, err := llmollama.NewOllamaClient(key.Host, key.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return client, nil

	case llm.ProviderOpenAI:
		client, err := llmopenai.NewOpenAIClient(key.APIKey, key.BaseURL, key.Model, key.Organization)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", key.Provider)
	}
}
