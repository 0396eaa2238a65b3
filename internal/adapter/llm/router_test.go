package llm

import (
	"context"
	"errors"
	"testing"

	"falcon-core/internal/domain"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		model        string
		wantProvider string
		wantModelID  string
	}{
		{"openrouter/deepseek/deepseek-r1", ProviderOpenRouter, "deepseek/deepseek-r1"},
		{"openrouter/openai/gpt-4o", ProviderOpenRouter, "openai/gpt-4o"},
		{"gpt-4o", ProviderOpenAI, "gpt-4o"},
		{"gpt-4o-mini", ProviderOpenAI, "gpt-4o-mini"},
		{"o1-preview", ProviderOpenAI, "o1-preview"},
		{"o3-mini", ProviderOpenAI, "o3-mini"},
		{"claude-sonnet-4-20250514", ProviderAnthropic, "claude-sonnet-4-20250514"},
		{"gemini-2.5-pro", ProviderGoogle, "gemini-2.5-pro"},
		{"gemini-2.5-flash", ProviderGoogle, "gemini-2.5-flash"},
		// Unknown models fall back to the default Gemini model.
		{"llama-3.3-70b", ProviderGoogle, fallbackModel},
		{"", ProviderGoogle, fallbackModel},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got := DetectProvider(tt.model)
			if got.Provider != tt.wantProvider {
				t.Errorf("Provider = %q, want %q", got.Provider, tt.wantProvider)
			}
			if got.ModelID != tt.wantModelID {
				t.Errorf("ModelID = %q, want %q", got.ModelID, tt.wantModelID)
			}
		})
	}
}

// Ordering matters: an openrouter/ prefix wins even when the remainder would
// match another family.
func TestDetectProviderPrefixPrecedence(t *testing.T) {
	got := DetectProvider("openrouter/claude-sonnet-4-20250514")
	if got.Provider != ProviderOpenRouter {
		t.Errorf("Provider = %q, want %q", got.Provider, ProviderOpenRouter)
	}
	if got.ModelID != "claude-sonnet-4-20250514" {
		t.Errorf("ModelID = %q", got.ModelID)
	}
}

type stubProvider struct {
	name string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) StreamChat(_ context.Context, _ domain.ChatRequest, _ domain.ChunkSink) (domain.Usage, error) {
	return domain.Usage{}, nil
}

func TestModelRouterRoute(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderOpenRouter} {
		if err := reg.Register(&stubProvider{name: name}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	router := NewModelRouter(reg)

	provider, modelID, err := router.Route("claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if provider.Name() != ProviderAnthropic {
		t.Errorf("provider = %q, want %q", provider.Name(), ProviderAnthropic)
	}
	if modelID != "claude-sonnet-4-20250514" {
		t.Errorf("modelID = %q", modelID)
	}
}

func TestModelRouterUnregisteredProvider(t *testing.T) {
	reg := NewRegistry()
	router := NewModelRouter(reg)

	_, _, err := router.Route("gpt-4o")
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("err = %v, want %v", err, domain.ErrProviderNotFound)
	}
}
