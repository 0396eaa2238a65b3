package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"falcon-core/internal/domain"
	"falcon-core/internal/infra/config"
	"falcon-core/internal/infra/tracer"
)

// GeminiProvider implements domain.StreamProvider over the native Gemini SDK
// rather than raw SSE. The SDK handles the wire protocol; we translate its
// chunk iterator into sink writes. Gemini streams do not carry usage data, so
// StreamChat always returns an empty Usage.
type GeminiProvider struct {
	name   string
	client *genai.Client
	logger *slog.Logger
}

func NewGeminiProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, domain.NewDomainError("gemini.new", domain.ErrProviderError, err.Error())
	}

	name := cfg.Name
	if name == "" {
		name = ProviderGoogle
	}

	return &GeminiProvider{
		name:   name,
		client: client,
		logger: logger,
	}, nil
}

// Name implements domain.StreamProvider.
func (p *GeminiProvider) Name() string { return p.name }

// Close releases the underlying SDK client.
func (p *GeminiProvider) Close() error { return p.client.Close() }

// StreamChat implements domain.StreamProvider. The conversation history minus
// the final user message seeds the chat session; the final message is sent as
// the streaming turn.
func (p *GeminiProvider) StreamChat(ctx context.Context, req domain.ChatRequest, sink domain.ChunkSink) (domain.Usage, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	model := p.client.GenerativeModel(req.Model)
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}
	if req.TopP != nil {
		model.SetTopP(float32(*req.TopP))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	var history []*genai.Content
	var system strings.Builder
	var last string
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
		case domain.RoleAssistant, domain.RoleModel:
			history = append(history, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		default:
			history = append(history, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		}
	}
	if system.Len() > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system.String())},
		}
	}

	// The last user message becomes the prompt for this turn.
	if n := len(history); n > 0 && history[n-1].Role == "user" {
		if txt, ok := history[n-1].Parts[0].(genai.Text); ok {
			last = string(txt)
		}
		history = history[:n-1]
	}
	if last == "" {
		return domain.Usage{}, domain.NewDomainError("gemini.stream", domain.ErrInvalidInput, "no user message to send")
	}

	session := model.StartChat()
	session.History = history

	iter := session.SendMessageStream(ctx, genai.Text(last))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			mapped := domain.NewDomainError("gemini.stream", domain.ErrProviderError, err.Error())
			tracer.RecordError(span, mapped)
			return domain.Usage{}, mapped
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if txt, ok := part.(genai.Text); ok && txt != "" {
					if err := sink.WriteContent(ctx, string(txt)); err != nil {
						tracer.RecordError(span, err)
						return domain.Usage{}, err
					}
				}
			}
		}
	}

	tracer.SetOK(span)
	logStreamCompleted(p.logger, p.name, req.Model, domain.Usage{})
	return domain.Usage{}, nil
}

var _ domain.StreamProvider = (*GeminiProvider)(nil)
