package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"falcon-core/internal/domain"
	"falcon-core/internal/usecase"
)

// sendMessageRequest is the JSON body of POST /api/conversations/{id}/messages.
type sendMessageRequest struct {
	Content              string          `json:"content"`
	Model                string          `json:"model,omitempty"`
	Temperature          *float64        `json:"temperature,omitempty"`
	MaxTokens            int             `json:"maxTokens,omitempty"`
	TopP                 *float64        `json:"topP,omitempty"`
	Attachments          json.RawMessage `json:"attachments,omitempty"`
	SystemInstructions   string          `json:"systemInstructions,omitempty"`
	TemplateSystemPrompt string          `json:"templateSystemPrompt,omitempty"`
	SkillSystemPrompt    string          `json:"skillSystemPrompt,omitempty"`
	EnabledMcpTools      []string        `json:"enabledMcpTools,omitempty"`
}

type createConversationRequest struct {
	Title        string `json:"title,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": s.registry.List(),
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	// An empty body is a valid "create with defaults" request.
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, domain.NewDomainError("gateway.create", domain.ErrInvalidInput, err.Error()))
		return
	}

	c := &domain.Conversation{
		Title:        req.Title,
		ProjectID:    req.ProjectID,
		SystemPrompt: req.SystemPrompt,
	}
	if err := s.store.CreateConversation(r.Context(), c); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListConversations(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Conversation{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// handleSendMessage runs one chat turn: persist the user message, stream the
// assistant response as SSE, persist exactly one assistant message, then emit
// the terminal done event.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.NewDomainError("gateway.send", domain.ErrInvalidInput, err.Error()))
		return
	}
	if req.Content == "" {
		s.writeError(w, domain.NewDomainError("gateway.send", domain.ErrInvalidInput, "content is required"))
		return
	}

	// Everything that can fail with a plain HTTP status happens before the
	// response becomes an SSE stream.
	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	userMsg := &domain.Message{
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        req.Content,
		Attachments:    req.Attachments,
	}
	if err := s.store.AppendMessage(r.Context(), userMsg); err != nil {
		s.writeError(w, err)
		return
	}

	history, err := s.store.History(r.Context(), conversationID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sink, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sink.start()

	general := req.SystemInstructions
	if general == "" {
		general = s.generalPrompt
	}
	var projectPrompt string
	if conv.ProjectID != "" {
		projectPrompt = conv.SystemPrompt
	}
	system := usecase.MergeSystemPrompt(usecase.PromptSources{
		ProjectPrompt:       projectPrompt,
		GeneralInstructions: general,
		TemplatePrompt:      req.TemplateSystemPrompt,
		SkillPrompt:         req.SkillSystemPrompt,
	})

	messages := make([]domain.Message, 0, len(history)+1)
	if system != "" {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: system})
	}
	messages = append(messages, history...)

	full, usage, err := s.streamer.Stream(r.Context(), domain.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}, sink)
	if err != nil {
		// Abort mid-stream: the client is gone and the turn never
		// completed, so no assistant message is written.
		s.logger.Info("stream aborted",
			"conversation_id", conversationID, "error", err)
		return
	}

	// Persistence runs on a fresh context so a disconnect between the last
	// chunk and here cannot lose the completed turn.
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.AppendMessage(persistCtx, &domain.Message{
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        full,
	}); err != nil {
		s.logger.Error("persist assistant message",
			"conversation_id", conversationID, "error", err)
		_ = sink.WriteEvent(domain.StreamEvent{Error: "failed to save response"})
	}

	done := domain.StreamEvent{Done: true}
	if !usage.Empty() {
		done.Usage = &usage
	}
	if err := sink.WriteEvent(done); err != nil {
		s.logger.Warn("write done event",
			"conversation_id", conversationID, "error", err)
	}
}

func (s *Server) handleAutoTitle(w http.ResponseWriter, r *http.Request) {
	title, err := s.titles.Generate(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"title": title})
}
