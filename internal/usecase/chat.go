// Package usecase holds the streaming orchestrator and its supporting logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"falcon-core/internal/adapter/llm"
	"falcon-core/internal/domain"
)

// Streamer runs one chat turn against whichever provider the model id routes
// to. It owns provider selection and the error-as-content fallback; it never
// touches persistence.
type Streamer struct {
	router *llm.ModelRouter
	logger *slog.Logger
}

func NewStreamer(router *llm.ModelRouter, logger *slog.Logger) *Streamer {
	return &Streamer{router: router, logger: logger}
}

// Stream resolves a provider for req.Model, forwards content chunks to sink
// as they arrive, and returns the full aggregated response plus usage.
//
// Provider failures are converted into a visible markdown blockquote written
// through the sink and a nil error, so an SSE response already in flight
// degrades to readable content instead of a broken connection. Context
// cancellation is the exception: it propagates as an error so callers can
// tell an abort from a completed turn.
func (s *Streamer) Stream(ctx context.Context, req domain.ChatRequest, sink domain.ChunkSink) (string, domain.Usage, error) {
	tee := &teeSink{inner: sink}

	provider, modelID, err := s.router.Route(req.Model)
	if err != nil {
		return s.failInBand(ctx, tee, req.Model, err)
	}
	req.Model = modelID

	usage, err := provider.StreamChat(ctx, req, tee)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return tee.String(), usage, err
		}
		s.logger.Error("provider stream failed",
			"provider", provider.Name(),
			"model", modelID,
			"error", err,
		)
		full, _, _ := s.failInBand(ctx, tee, modelID, err)
		return full, usage, nil
	}

	return tee.String(), usage, nil
}

// failInBand writes the error as blockquote content and reports success, so
// the turn ends with a renderable assistant bubble.
func (s *Streamer) failInBand(ctx context.Context, tee *teeSink, model string, cause error) (string, domain.Usage, error) {
	msg := formatErrorContent(cause)
	if err := tee.WriteContent(ctx, msg); err != nil {
		s.logger.Warn("failed to write error content", "model", model, "error", err)
	}
	return tee.String(), domain.Usage{}, nil
}

func formatErrorContent(err error) string {
	lines := strings.Split(err.Error(), "\n")
	var b strings.Builder
	b.WriteString("\n\n")
	for _, line := range lines {
		fmt.Fprintf(&b, "> %s\n", line)
	}
	return b.String()
}
