package llm

import (
	"strings"

	"falcon-core/internal/domain"
)

// Provider names. These are the keys used in the registry and in
// configuration; every model identifier resolves to exactly one of them.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGoogle     = "google"
	ProviderOpenRouter = "openrouter"
)

// fallbackModel is forwarded when the model identifier matches no known
// provider prefix (including the empty string).
const fallbackModel = "gemini-2.5-flash"

// Route is the result of resolving a model identifier: which provider to call
// and what model id to forward to it.
type Route struct {
	Provider string
	ModelID  string
}

// DetectProvider inspects a model identifier and selects the provider and the
// forwarded model id. Ordered, first match wins; total — any input, including
// empty, resolves to some provider.
func DetectProvider(model string) Route {
	switch {
	case strings.HasPrefix(model, "openrouter/"):
		return Route{Provider: ProviderOpenRouter, ModelID: strings.TrimPrefix(model, "openrouter/")}
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1-"), strings.HasPrefix(model, "o3-"):
		return Route{Provider: ProviderOpenAI, ModelID: model}
	case strings.HasPrefix(model, "claude-"):
		return Route{Provider: ProviderAnthropic, ModelID: model}
	case strings.HasPrefix(model, "gemini-"):
		return Route{Provider: ProviderGoogle, ModelID: model}
	default:
		return Route{Provider: ProviderGoogle, ModelID: fallbackModel}
	}
}

// ModelRouter resolves a model identifier to a registered provider and
// rewrites the request's model id for forwarding.
type ModelRouter struct {
	registry *Registry
}

// NewModelRouter creates a router over the given provider registry.
func NewModelRouter(registry *Registry) *ModelRouter {
	return &ModelRouter{registry: registry}
}

// Route resolves model to a provider and the forwarded model id.
func (r *ModelRouter) Route(model string) (domain.StreamProvider, string, error) {
	route := DetectProvider(model)
	provider, err := r.registry.Get(route.Provider)
	if err != nil {
		return nil, "", err
	}
	return provider, route.ModelID, nil
}
