package domain

import "context"

// ChunkSink receives incremental content from a streaming provider. The HTTP
// gateway implements it by writing SSE events to the live response; tests and
// the title generator implement it by collecting into a string.
type ChunkSink interface {
	WriteContent(ctx context.Context, text string) error
}

// ChunkSinkFunc adapts a function to the ChunkSink interface.
type ChunkSinkFunc func(ctx context.Context, text string) error

func (f ChunkSinkFunc) WriteContent(ctx context.Context, text string) error {
	return f(ctx, text)
}

// StreamProvider is the interface for any streaming LLM backend. StreamChat
// writes content chunks to sink in upstream order and returns the aggregated
// token usage once the upstream stream has fully drained. A non-2xx initial
// response fails before any sink write.
type StreamProvider interface {
	StreamChat(ctx context.Context, req ChatRequest, sink ChunkSink) (Usage, error)
	// Name returns the provider's identifier (e.g., "openai", "anthropic").
	Name() string
}
