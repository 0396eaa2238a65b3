package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"falcon-core/internal/domain"
	"falcon-core/internal/infra/config"
	"falcon-core/internal/infra/tracer"
)

// OpenAIProvider implements domain.StreamProvider for any OpenAI-compatible
// chat completions API.
type OpenAIProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAIProvider creates a provider with configured timeouts.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	name := cfg.Name
	if name == "" {
		name = ProviderOpenAI
	}

	return &OpenAIProvider{
		name:    name,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.StreamProvider.
func (p *OpenAIProvider) Name() string { return p.name }

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content string `json:"content,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toOpenAIRequest(req domain.ChatRequest) openaiRequest {
	msgs := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		// Histories written by Gemini-era clients use "model" for the
		// assistant role; OpenAI-compatible APIs reject it.
		if role == domain.RoleModel {
			role = domain.RoleAssistant
		}
		msgs = append(msgs, openaiMessage{Role: role, Content: m.Content})
	}

	return openaiRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      true,
	}
}

// StreamChat implements domain.StreamProvider. Content deltas are forwarded to
// sink in upstream order; cumulative usage, typically present only on the
// final chunk, is returned once the stream drains.
func (p *OpenAIProvider) StreamChat(ctx context.Context, req domain.ChatRequest, sink domain.ChunkSink) (domain.Usage, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	body, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Usage{}, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	httpResp, err := doStreamRequest(ctx, p.client, p.name, p.baseURL+"/chat/completions", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Usage{}, err
	}

	var usage domain.Usage
	err = readSSEBody(ctx, httpResp.Body, p.logger, func(data json.RawMessage) error {
		var chunk openaiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil // malformed chunk, skip
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if err := sink.WriteContent(ctx, chunk.Choices[0].Delta.Content); err != nil {
				return err
			}
		}
		if chunk.Usage != nil {
			usage = domain.Usage{
				TotalTokens:      domain.IntPtr(chunk.Usage.TotalTokens),
				PromptTokens:     domain.IntPtr(chunk.Usage.PromptTokens),
				CompletionTokens: domain.IntPtr(chunk.Usage.CompletionTokens),
			}
		}
		return nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		return usage, err
	}

	tracer.SetOK(span)
	logStreamCompleted(p.logger, p.name, req.Model, usage)
	return usage, nil
}

// Compile-time interface assertion.
var _ domain.StreamProvider = (*OpenAIProvider)(nil)
