package llm

import (
	"context"
	"net/http"
	"testing"

	"falcon-core/internal/domain"
	"falcon-core/internal/infra/config"
)

func TestAnthropicStreamChat(t *testing.T) {
	server := sseServer(t, []string{
		`data: {"type":"message_start","message":{"usage":{"input_tokens":12}}}`,
		`data: {"type":"content_block_start","content_block":{"type":"text"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
		`data: {"type":"content_block_stop"}`,
		`data: {"type":"message_delta","usage":{"output_tokens":5}}`,
		`data: {"type":"message_stop"}`,
	}, func(r *http.Request, body []byte) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
	})
	defer server.Close()

	p := NewAnthropicProvider(config.ProviderConfig{
		Name:    "anthropic",
		BaseURL: server.URL,
		APIKey:  "test-key",
	}, testLogger())

	sink := &collectSink{}
	usage, err := p.StreamChat(context.Background(), domain.ChatRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}, sink)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if got := sink.joined(); got != "Hello" {
		t.Errorf("content = %q, want %q", got, "Hello")
	}
	if usage.PromptTokens == nil || *usage.PromptTokens != 12 {
		t.Errorf("PromptTokens = %v, want 12", usage.PromptTokens)
	}
	if usage.CompletionTokens == nil || *usage.CompletionTokens != 5 {
		t.Errorf("CompletionTokens = %v, want 5", usage.CompletionTokens)
	}
	if usage.TotalTokens == nil || *usage.TotalTokens != 17 {
		t.Errorf("TotalTokens = %v, want 17", usage.TotalTokens)
	}
}

// When only one half of the usage pair arrives, no total is derived.
func TestAnthropicPartialUsage(t *testing.T) {
	server := sseServer(t, []string{
		`data: {"type":"message_start","message":{"usage":{"input_tokens":12}}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}`,
		`data: {"type":"message_stop"}`,
	}, nil)
	defer server.Close()

	p := NewAnthropicProvider(config.ProviderConfig{BaseURL: server.URL}, testLogger())
	usage, err := p.StreamChat(context.Background(), domain.ChatRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}, &collectSink{})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if usage.PromptTokens == nil || *usage.PromptTokens != 12 {
		t.Errorf("PromptTokens = %v, want 12", usage.PromptTokens)
	}
	if usage.CompletionTokens != nil {
		t.Errorf("CompletionTokens = %v, want nil", usage.CompletionTokens)
	}
	if usage.TotalTokens != nil {
		t.Errorf("TotalTokens = %v, want nil", usage.TotalTokens)
	}
}

func TestAnthropicSystemExtraction(t *testing.T) {
	req := domain.ChatRequest{
		Model: "claude-sonnet-4-20250514",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleModel, Content: "hello"},
		},
	}

	wire := toAnthropicRequest(req)
	if wire.System != "be brief" {
		t.Errorf("System = %q, want %q", wire.System, "be brief")
	}
	if len(wire.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(wire.Messages))
	}
	if wire.Messages[0].Role != domain.RoleUser {
		t.Errorf("message[0].Role = %q, want user", wire.Messages[0].Role)
	}
	if wire.Messages[1].Role != domain.RoleAssistant {
		t.Errorf("message[1].Role = %q, want assistant", wire.Messages[1].Role)
	}
	if !wire.Stream {
		t.Error("request did not set stream: true")
	}
}

func TestAnthropicErrorEvent(t *testing.T) {
	server := sseServer(t, []string{
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"par"}}`,
		`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
	}, nil)
	defer server.Close()

	p := NewAnthropicProvider(config.ProviderConfig{BaseURL: server.URL}, testLogger())
	sink := &collectSink{}
	_, err := p.StreamChat(context.Background(), domain.ChatRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}, sink)
	if err == nil {
		t.Fatal("expected error from error event")
	}
	if got := sink.joined(); got != "par" {
		t.Errorf("partial content = %q, want %q", got, "par")
	}
}
