package domain

import (
	"context"
	"time"
)

// ConversationStore persists conversations and their append-only message
// history. Message ids are positive integers assigned by the store.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]Conversation, error)
	AppendMessage(ctx context.Context, m *Message) error
	History(ctx context.Context, conversationID string) ([]Message, error)
	SetTitle(ctx context.Context, id, title string) error
	// PurgeIdleBefore deletes conversations not updated since cutoff and
	// returns how many were removed.
	PurgeIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
