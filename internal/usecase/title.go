package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"falcon-core/internal/domain"
)

const titleInstruction = "Generate a very concise title (3-5 words maximum) for the conversation below. Respond with the title only, no quotes and no punctuation around it."

const maxTitleLength = 80

// TitleGenerator derives a short conversation title from the first exchange.
// Every failure path returns an error the caller is expected to swallow; the
// feature is cosmetic.
type TitleGenerator struct {
	streamer *Streamer
	store    domain.ConversationStore
	model    string
	logger   *slog.Logger
}

func NewTitleGenerator(streamer *Streamer, store domain.ConversationStore, model string, logger *slog.Logger) *TitleGenerator {
	return &TitleGenerator{streamer: streamer, store: store, model: model, logger: logger}
}

// Generate titles the conversation from its first user/assistant exchange,
// stores the result, and returns it.
func (g *TitleGenerator) Generate(ctx context.Context, conversationID string) (string, error) {
	history, err := g.store.History(ctx, conversationID)
	if err != nil {
		return "", err
	}
	exchange := firstExchange(history)
	if exchange == "" {
		return "", domain.NewDomainError("title.generate", domain.ErrInvalidInput, "conversation has no messages")
	}

	req := domain.ChatRequest{
		Model: g.model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: titleInstruction},
			{Role: domain.RoleUser, Content: exchange},
		},
		MaxTokens: 20,
	}

	sink := &CollectSink{}
	_, _, err = g.streamer.Stream(ctx, req, sink)
	if err != nil {
		return "", err
	}

	title := cleanTitle(sink.String())
	if title == "" {
		return "", domain.NewDomainError("title.generate", domain.ErrProviderError, "model returned no usable title")
	}

	if err := g.store.SetTitle(ctx, conversationID, title); err != nil {
		return "", err
	}
	g.logger.Debug("conversation titled", "conversation_id", conversationID, "title", title)
	return title, nil
}

// firstExchange renders the first user message and, when present, the first
// assistant reply.
func firstExchange(history []domain.Message) string {
	var user, assistant string
	for _, m := range history {
		switch m.Role {
		case domain.RoleUser:
			if user == "" {
				user = m.Content
			}
		case domain.RoleAssistant, domain.RoleModel:
			if user != "" && assistant == "" {
				assistant = m.Content
			}
		}
		if user != "" && assistant != "" {
			break
		}
	}
	if user == "" {
		return ""
	}
	if assistant == "" {
		return fmt.Sprintf("User: %s", user)
	}
	return fmt.Sprintf("User: %s\n\nAssistant: %s", user, assistant)
}

func cleanTitle(raw string) string {
	title := strings.Trim(raw, "\"'\n\r\t .")
	title = strings.ReplaceAll(title, "\n", " ")
	// Truncate on rune boundaries so multi-byte titles stay valid UTF-8.
	if runes := []rune(title); len(runes) > maxTitleLength {
		title = strings.TrimSpace(string(runes[:maxTitleLength]))
	}
	return title
}
