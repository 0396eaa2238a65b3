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

const anthropicVersion = "2023-06-01"

// AnthropicProvider implements domain.StreamProvider for the Anthropic
// Messages API, which uses typed SSE events rather than the OpenAI chunk
// shape.
type AnthropicProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewAnthropicProvider(cfg config.ProviderConfig, logger *slog.Logger) *AnthropicProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}

	name := cfg.Name
	if name == "" {
		name = ProviderAnthropic
	}

	return &AnthropicProvider{
		name:    name,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.StreamProvider.
func (p *AnthropicProvider) Name() string { return p.name }

// --- Anthropic API wire types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicStreamEvent covers the union of event payloads we care about. The
// event type rides inside the data payload, so a single struct with optional
// fields is enough.
type anthropicStreamEvent struct {
	Type    string          `json:"type"`
	Delta   *anthropicDelta `json:"delta,omitempty"`
	Message *struct {
		Usage *anthropicUsage `json:"usage,omitempty"`
	} `json:"message,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  *int `json:"input_tokens,omitempty"`
	OutputTokens *int `json:"output_tokens,omitempty"`
}

func toAnthropicRequest(req domain.ChatRequest) anthropicRequest {
	out := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      true,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = 4096
	}

	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			// The Messages API takes system text as a top-level field,
			// never as a message.
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += m.Content
		case domain.RoleAssistant, domain.RoleModel:
			out.Messages = append(out.Messages, anthropicMessage{Role: domain.RoleAssistant, Content: m.Content})
		default:
			out.Messages = append(out.Messages, anthropicMessage{Role: domain.RoleUser, Content: m.Content})
		}
	}

	return out
}

// StreamChat implements domain.StreamProvider. Text arrives in
// content_block_delta events; prompt tokens come from message_start and
// completion tokens from message_delta. TotalTokens is only derived when both
// halves were reported.
func (p *AnthropicProvider) StreamChat(ctx context.Context, req domain.ChatRequest, sink domain.ChunkSink) (domain.Usage, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	body, err := json.Marshal(toAnthropicRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Usage{}, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}

	httpResp, err := doStreamRequest(ctx, p.client, p.name, p.baseURL+"/messages", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Usage{}, err
	}

	var promptTokens, completionTokens *int
	err = readSSEBody(ctx, httpResp.Body, p.logger, func(data json.RawMessage) error {
		var ev anthropicStreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Text != "" {
				return sink.WriteContent(ctx, ev.Delta.Text)
			}
		case "message_start":
			if ev.Message != nil && ev.Message.Usage != nil && ev.Message.Usage.InputTokens != nil {
				promptTokens = ev.Message.Usage.InputTokens
			}
		case "message_delta":
			if ev.Usage != nil && ev.Usage.OutputTokens != nil {
				completionTokens = ev.Usage.OutputTokens
			}
		case "error":
			if ev.Error != nil {
				return domain.NewDomainError("anthropic.stream", domain.ErrProviderError, ev.Error.Message)
			}
		}
		return nil
	})

	usage := domain.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
	if promptTokens != nil && completionTokens != nil {
		usage.TotalTokens = domain.IntPtr(*promptTokens + *completionTokens)
	}

	if err != nil {
		tracer.RecordError(span, err)
		return usage, err
	}

	tracer.SetOK(span)
	logStreamCompleted(p.logger, p.name, req.Model, usage)
	return usage, nil
}

var _ domain.StreamProvider = (*AnthropicProvider)(nil)
