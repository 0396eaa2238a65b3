package domain

import (
	"encoding/json"
	"time"
)

// Role constants for message roles. RoleModel appears in histories written by
// Gemini-era clients and is normalized by each adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleModel     = "model"
)

// Message is a single message in a conversation. History is append-only; the
// assistant message for a turn does not exist until streaming completes.
type Message struct {
	ID             int64           `json:"id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Attachments    json.RawMessage `json:"attachments,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Conversation holds an ordered sequence of messages.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	ProjectID    string    `json:"project_id,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChatRequest is the provider-agnostic request sent to an LLM provider.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
}

// Usage tracks token consumption. Fields are pointers because providers report
// usage unevenly: OpenAI-compatible APIs send all three on the final chunk,
// Anthropic sends prompt and completion counts in separate events, and the
// Gemini streaming path reports nothing at all. nil means "not reported".
type Usage struct {
	TotalTokens      *int `json:"totalTokens,omitempty"`
	PromptTokens     *int `json:"promptTokens,omitempty"`
	CompletionTokens *int `json:"completionTokens,omitempty"`
}

// Empty reports whether no usage field was populated.
func (u Usage) Empty() bool {
	return u.TotalTokens == nil && u.PromptTokens == nil && u.CompletionTokens == nil
}

// IntPtr returns a pointer to v. Helper for building Usage values.
func IntPtr(v int) *int { return &v }
