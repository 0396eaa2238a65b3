package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"falcon-core/internal/domain"
)

// sseWriter writes StreamEvents to an HTTP response as Server-Sent Events and
// implements domain.ChunkSink so it can be handed to the orchestrator as the
// live sink. Headers are set exactly once, before the first write.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// WriteEvent emits one `data: <json>\n\n` frame and flushes it downstream.
func (s *sseWriter) WriteEvent(ev domain.StreamEvent) error {
	s.start()
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteContent implements domain.ChunkSink.
func (s *sseWriter) WriteContent(_ context.Context, text string) error {
	return s.WriteEvent(domain.StreamEvent{Content: text})
}

var _ domain.ChunkSink = (*sseWriter)(nil)
