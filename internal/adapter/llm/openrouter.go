package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"falcon-core/internal/domain"
	"falcon-core/internal/infra/config"
)

var _ domain.StreamProvider = (*OpenRouterProvider)(nil)

// openrouterTransport is a custom http.RoundTripper that injects
// OpenRouter-specific headers (HTTP-Referer and X-Title) into every request.
type openrouterTransport struct {
	base http.RoundTripper
}

func (t *openrouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original.
	clone := req.Clone(req.Context())
	clone.Header.Set("HTTP-Referer", "https://github.com/falconcore/falcon-core")
	clone.Header.Set("X-Title", "falcon-core")
	return t.base.RoundTrip(clone)
}

// OpenRouterProvider wraps OpenAIProvider to work with the OpenRouter API.
// OpenRouter speaks the OpenAI wire format, so only the base URL and the
// attribution headers differ.
type OpenRouterProvider struct {
	inner *OpenAIProvider
}

// NewOpenRouterProvider creates an OpenRouter provider that delegates to
// OpenAIProvider with a custom transport for OpenRouter-specific headers.
func NewOpenRouterProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenRouterProvider {
	client := NewHTTPClient(cfg)
	client.Transport = &openrouterTransport{base: client.Transport}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}

	name := cfg.Name
	if name == "" {
		name = ProviderOpenRouter
	}

	return &OpenRouterProvider{
		inner: &OpenAIProvider{
			name:    name,
			apiKey:  cfg.APIKey,
			baseURL: baseURL,
			client:  client,
			logger:  logger,
		},
	}
}

// StreamChat implements domain.StreamProvider.
func (p *OpenRouterProvider) StreamChat(ctx context.Context, req domain.ChatRequest, sink domain.ChunkSink) (domain.Usage, error) {
	return p.inner.StreamChat(ctx, req, sink)
}

// Name implements domain.StreamProvider.
func (p *OpenRouterProvider) Name() string { return p.inner.Name() }
