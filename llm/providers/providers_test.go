package providers

import (
	"context"
	"testing"

	"github.com/aschepis/backscratcher/lifebook/llm"
	"github.com/rs/zerolog"
)

func TestFactoryCachesByKey(t *testing.T) {
	f := NewFactory(zerolog.Nop())
	ctx := context.Background()
	key := &llm.ClientKey{Provider: llm.ProviderOllama, Host: "http://localhost:11434", Model: "llava"}

	a, err := f.Client(ctx, key)
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	b, err := f.Client(ctx, &llm.ClientKey{Provider: llm.ProviderOllama, Host: "http://localhost:11434", Model: "llava"})
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if a != b {
		t.Fatal("expected the cached client for an equal key")
	}
	c, err := f.Client(ctx, &llm.ClientKey{Provider: llm.ProviderOllama, Host: "http://localhost:11434", Model: "llama3"})
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if a == c {
		t.Fatal("different models must not share a client")
	}
}

func TestNewRejectsMissingCredentials(t *testing.T) {
	ctx := context.Background()
	for _, provider := range []string{llm.ProviderAnthropic, llm.ProviderGemini, llm.ProviderOpenAI, "palm"} {
		if _, err := New(ctx, &llm.ClientKey{Provider: provider, Model: "m"}, zerolog.Nop()); err == nil {
			t.Errorf("%s: expected error without an API key", provider)
		}
	}
}
