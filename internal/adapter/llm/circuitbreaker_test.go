package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker/v2"

	"falcon-core/internal/domain"
	"falcon-core/internal/infra/config"
)

type failingProvider struct {
	name  string
	err   error
	calls int
}

func (p *failingProvider) Name() string { return p.name }

func (p *failingProvider) StreamChat(_ context.Context, _ domain.ChatRequest, _ domain.ChunkSink) (domain.Usage, error) {
	p.calls++
	return domain.Usage{}, p.err
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &failingProvider{name: "flaky", err: domain.ErrProviderError}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 3}, testLogger())

	req := domain.ChatRequest{Model: "gpt-4o"}
	for i := 0; i < 3; i++ {
		if _, err := cb.StreamChat(context.Background(), req, &collectSink{}); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	// Subsequent calls fail fast without reaching the provider.
	callsBefore := inner.calls
	_, err := cb.StreamChat(context.Background(), req, &collectSink{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want %v", err, gobreaker.ErrOpenState)
	}
	if inner.calls != callsBefore {
		t.Error("open circuit still reached the provider")
	}
}

func TestCircuitBreakerPassesSuccess(t *testing.T) {
	inner := &failingProvider{name: "ok", err: nil}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, testLogger())

	if _, err := cb.StreamChat(context.Background(), domain.ChatRequest{Model: "gpt-4o"}, &collectSink{}); err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

// A caller abort is not a provider failure and must not trip the breaker.
func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	inner := &failingProvider{name: "aborted", err: context.Canceled}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 2}, testLogger())

	req := domain.ChatRequest{Model: "gpt-4o"}
	for i := 0; i < 5; i++ {
		_, _ = cb.StreamChat(context.Background(), req, &collectSink{})
	}

	if cb.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}
