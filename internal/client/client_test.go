package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func instantBackoff(c *Client) {
	c.backoff = func(int) time.Duration { return time.Millisecond }
}

func newClient(t *testing.T, baseURL string, opts ...Option) (*Client, *MemoryCache) {
	t.Helper()
	cache := NewMemoryCache()
	c := New(baseURL, cache, discardLogger(), opts...)
	return c, cache
}

func sseHandler(write func(w http.ResponseWriter, r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		write(w, r)
	})
}

func TestSendSuccess(t *testing.T) {
	server := httptest.NewServer(sseHandler(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"content\":\"Hel\"}\n\n")
		f.Flush()
		fmt.Fprint(w, "data: {\"content\":\"lo\"}\n\n")
		f.Flush()
		fmt.Fprint(w, "data: {\"done\":true,\"usage\":{\"totalTokens\":42}}\n\n")
	}))
	defer server.Close()

	c, cache := newClient(t, server.URL, WithAutoTitle(false))

	var lives []string
	res, err := c.Send(context.Background(), SendOptions{
		ConversationID: "conv-1",
		Content:        "hi",
		Model:          "gpt-4o",
		OnContent:      func(s string) { lives = append(lives, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, res.Status)
	assert.Equal(t, StatusIdle, c.Status())
	assert.Equal(t, "Hello", res.Content)
	assert.Empty(t, res.ErrorMessage)
	require.NotNil(t, res.Usage)
	require.NotNil(t, res.Usage.TotalTokens)
	assert.Equal(t, 42, *res.Usage.TotalTokens)

	// Live display string grows monotonically.
	assert.Equal(t, []string{"Hel", "Hello"}, lives)

	// Terminal completion invalidated the optimistic state.
	assert.Empty(t, cache.Pending("conv-1"))
	assert.Equal(t, 1, cache.Generation("conv-1"))
	assert.Equal(t, 1, cache.ListGeneration())
}

func TestSendBodyCarriesRequestOptions(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(sseHandler(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, "data: {\"done\":true}\n\n")
	}))
	defer server.Close()

	c, _ := newClient(t, server.URL, WithAutoTitle(false))
	_, err := c.Send(context.Background(), SendOptions{
		ConversationID:  "conv-1",
		Content:         "hi",
		Model:           "gpt-4o",
		EnabledMcpTools: []string{"web-search", "calculator"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hi", got["content"])
	assert.Equal(t, "gpt-4o", got["model"])
	assert.Equal(t, []any{"web-search", "calculator"}, got["enabledMcpTools"])
}

func TestTempMessageIDDisjointFromSerialIDs(t *testing.T) {
	for i := 0; i < 10000; i++ {
		id := TempMessageID()
		assert.Greater(t, id, -2.0)
		assert.Less(t, id, -1.0)
		assert.NotEqual(t, math.Trunc(id), id, "temp id must not be an integer")
	}
}

func TestRetryOn500ThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\":\"ok\"}\n\ndata: {\"done\":true}\n\n")
	}))
	defer server.Close()

	var delays []time.Duration
	c, _ := newClient(t, server.URL, WithAutoTitle(false), WithBackoff(func(attempt int) time.Duration {
		delays = append(delays, retryBaseDelay*time.Duration(1<<uint(attempt)))
		return time.Millisecond
	}))

	res, err := c.Send(context.Background(), SendOptions{ConversationID: "c", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, int32(3), calls.Load())

	// Backoff schedule grows between attempts.
	require.Len(t, delays, 2)
	assert.Greater(t, delays[1], delays[0])
}

func TestNoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	c, _ := newClient(t, server.URL, WithAutoTitle(false))
	instantBackoff(c)

	res, err := c.Send(context.Background(), SendOptions{ConversationID: "c", Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, StatusError, c.Status())
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, _ := newClient(t, server.URL, WithAutoTitle(false))
	instantBackoff(c)

	_, err := c.Send(context.Background(), SendOptions{ConversationID: "c", Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestAbortMidStreamIsStoppedNotError(t *testing.T) {
	firstChunkSent := make(chan struct{})
	server := httptest.NewServer(sseHandler(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"content\":\"par\"}\n\n")
		f.Flush()
		close(firstChunkSent)
		// Hold the stream open until the client goes away.
		<-r.Context().Done()
	}))
	defer server.Close()

	c, cache := newClient(t, server.URL, WithAutoTitle(false))

	go func() {
		<-firstChunkSent
		c.Stop()
	}()

	res, err := c.Send(context.Background(), SendOptions{ConversationID: "c", Content: "hi"})
	require.NoError(t, err, "abort is not an error")
	assert.Equal(t, StatusStopped, res.Status)
	assert.Equal(t, StatusStopped, c.Status())
	assert.Equal(t, "par", res.Content)
	assert.Empty(t, res.ErrorMessage)

	// Invalidation still ran so the optimistic copy is dropped.
	assert.Empty(t, cache.Pending("c"))
}

// An in-band error event is recorded but does not stop consumption or force
// an error status; error and done are independent.
func TestErrorEventDoesNotHaltStream(t *testing.T) {
	server := httptest.NewServer(sseHandler(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"content\":\"a\"}\n\n")
		fmt.Fprint(w, "data: {\"error\":\"provider hiccup\"}\n\n")
		fmt.Fprint(w, "data: {\"content\":\"b\"}\n\n")
		fmt.Fprint(w, "data: {\"done\":true}\n\n")
	}))
	defer server.Close()

	c, _ := newClient(t, server.URL, WithAutoTitle(false))
	res, err := c.Send(context.Background(), SendOptions{ConversationID: "c", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, res.Status)
	assert.Equal(t, "ab", res.Content)
	assert.Equal(t, "provider hiccup", res.ErrorMessage)
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	server := httptest.NewServer(sseHandler(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"content\":\"a\"}\n\n")
		fmt.Fprint(w, "data: {not json\n\n")
		fmt.Fprint(w, "data: {\"content\":\"b\"}\n\n")
		fmt.Fprint(w, "data: {\"done\":true}\n\n")
	}))
	defer server.Close()

	c, _ := newClient(t, server.URL, WithAutoTitle(false))
	res, err := c.Send(context.Background(), SendOptions{ConversationID: "c", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ab", res.Content)
}

func TestAutoTitleFiredAfterSuccess(t *testing.T) {
	titled := make(chan struct{}, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations/c/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\":\"hi\"}\n\ndata: {\"done\":true}\n\n")
	})
	mux.HandleFunc("/api/conversations/c/auto-title", func(w http.ResponseWriter, r *http.Request) {
		titled <- struct{}{}
		fmt.Fprint(w, `{"title":"x"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c, _ := newClient(t, server.URL)
	res, err := c.Send(context.Background(), SendOptions{ConversationID: "c", Content: "hi"})
	require.NoError(t, err)
	require.Equal(t, StatusIdle, res.Status)

	select {
	case <-titled:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-title request never arrived")
	}
}

func TestConcurrentSendRejected(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(sseHandler(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	c, _ := newClient(t, server.URL, WithAutoTitle(false))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Send(context.Background(), SendOptions{ConversationID: "c", Content: "hi"})
	}()

	<-started
	_, err := c.Send(context.Background(), SendOptions{ConversationID: "c", Content: "again"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in flight")

	c.Stop()
	<-done
}
