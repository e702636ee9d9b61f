package config

import (
	"os"

	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/lifebook/llm"
)

// ProviderConfig converts the extraction section into the llm provider
// configuration. Environment variables override values from the file.
func (e ExtractionConfig) ProviderConfig() *llm.ProviderConfig {
	return &llm.ProviderConfig{
		AnthropicAPIKey: override(e.Anthropic.APIKey, "ANTHROPIC_API_KEY"),
		AnthropicModel:  override(e.Anthropic.Model, "ANTHROPIC_MODEL"),
		GeminiAPIKey:    override(e.Gemini.APIKey, "GEMINI_API_KEY"),
		GeminiModel:     override(e.Gemini.Model, "GEMINI_MODEL"),
		OllamaHost:      override(e.Ollama.Host, "OLLAMA_HOST"),
		OllamaModel:     override(e.Ollama.Model, "OLLAMA_MODEL"),
		OpenAIAPIKey:    override(e.OpenAI.APIKey, "OPENAI_API_KEY"),
		OpenAIBaseURL:   override(e.OpenAI.BaseURL, "OPENAI_BASE_URL"),
		OpenAIModel:     override(e.OpenAI.Model, "OPENAI_MODEL"),
		OpenAIOrg:       override(e.OpenAI.Organization, "OPENAI_ORG_ID"),
	}
}

// LLMPreferences converts the preference list into llm preferences.
func (e ExtractionConfig) LLMPreferences() []llm.Preference {
	return lo.Map(e.Preferences, func(p ProviderPreference, _ int) llm.Preference {
		return llm.Preference{Provider: p.Provider, Model: p.Model, Temperature: p.Temperature}
	})
}

func override(value, env string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return value
}
