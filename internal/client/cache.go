package client

import "sync"

// OptimisticMessage is the locally-visible user message injected before the
// server confirms it. ID is a TempMessageID value, never a server id.
type OptimisticMessage struct {
	ID      float64
	Role    string
	Content string
}

// ConversationCache is the client-side cached conversation view. The
// orchestrator mutates it exactly twice per turn: one optimistic insert, then
// one invalidation; it never reconciles temp ids itself.
type ConversationCache interface {
	InsertOptimistic(conversationID string, msg OptimisticMessage)
	// Invalidate drops cached state for the conversation and the
	// conversation list, forcing the next read to re-fetch.
	Invalidate(conversationID string)
}

// MemoryCache is a ConversationCache for tests and simple embedders.
type MemoryCache struct {
	mu       sync.Mutex
	pending  map[string][]OptimisticMessage
	listGen  int
	convGens map[string]int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		pending:  make(map[string][]OptimisticMessage),
		convGens: make(map[string]int),
	}
}

func (c *MemoryCache) InsertOptimistic(conversationID string, msg OptimisticMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[conversationID] = append(c.pending[conversationID], msg)
}

func (c *MemoryCache) Invalidate(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, conversationID)
	c.convGens[conversationID]++
	c.listGen++
}

// Pending returns the optimistic messages not yet invalidated away.
func (c *MemoryCache) Pending(conversationID string) []OptimisticMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OptimisticMessage, len(c.pending[conversationID]))
	copy(out, c.pending[conversationID])
	return out
}

// Generation reports how many times the conversation was invalidated.
func (c *MemoryCache) Generation(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convGens[conversationID]
}

// ListGeneration reports how many times the conversation list was invalidated.
func (c *MemoryCache) ListGeneration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listGen
}
