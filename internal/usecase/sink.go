package usecase

import (
	"context"
	"strings"

	"falcon-core/internal/domain"
)

// CollectSink accumulates written content into a string. It replaces the need
// for a live response object when the stream result is wanted as a value, as
// in title generation.
type CollectSink struct {
	b strings.Builder
}

func (s *CollectSink) WriteContent(_ context.Context, text string) error {
	s.b.WriteString(text)
	return nil
}

func (s *CollectSink) String() string { return s.b.String() }

var _ domain.ChunkSink = (*CollectSink)(nil)

// teeSink forwards writes to an inner sink while keeping a full copy, so the
// orchestrator can return the aggregated response alongside live streaming.
type teeSink struct {
	inner domain.ChunkSink
	b     strings.Builder
}

func (s *teeSink) WriteContent(ctx context.Context, text string) error {
	s.b.WriteString(text)
	return s.inner.WriteContent(ctx, text)
}

func (s *teeSink) String() string { return s.b.String() }
