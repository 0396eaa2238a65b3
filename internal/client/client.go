// Package client is the Go client orchestrator for the chat streaming API. It
// drives one send at a time through a small state machine, with retry on the
// initial POST, optimistic cache updates, and user-triggered abort.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"falcon-core/internal/domain"
	"falcon-core/internal/sse"
)

const (
	defaultMaxAttempts = 3
	retryBaseDelay     = 1000 * time.Millisecond
	readBufferSize     = 4096
)

// SendOptions describes one chat turn.
type SendOptions struct {
	ConversationID       string
	Content              string
	Model                string
	MaxTokens            int
	Temperature          *float64
	TopP                 *float64
	Attachments          json.RawMessage
	SystemInstructions   string
	TemplateSystemPrompt string
	SkillSystemPrompt    string
	EnabledMcpTools      []string

	// OnContent, when set, receives the accumulated text after every
	// content event; it backs a live "currently streaming" display.
	OnContent func(accumulated string)
}

// Result is the outcome of a completed (or terminated) send.
type Result struct {
	// Content is the accumulated assistant text, including any partial
	// content received before an abort or mid-stream failure.
	Content string
	// Usage is set when the terminal done event carried one.
	Usage *domain.Usage
	// ErrorMessage records the last in-band error event, if any. Error
	// events and completion are independent: a stream can carry an error
	// event and still finish normally.
	ErrorMessage string
	Status       Status
}

// Client drives sends against the chat streaming API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      ConversationCache
	logger     *slog.Logger
	autoTitle  bool

	maxAttempts int
	backoff     func(attempt int) time.Duration

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBackoff replaces the retry delay schedule. Tests use this to avoid
// real sleeps.
func WithBackoff(f func(attempt int) time.Duration) Option {
	return func(c *Client) { c.backoff = f }
}

// WithAutoTitle toggles the best-effort title request after a successful
// stream. On by default.
func WithAutoTitle(enabled bool) Option {
	return func(c *Client) { c.autoTitle = enabled }
}

func New(baseURL string, cache ConversationCache, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{},
		cache:       cache,
		logger:      logger,
		autoTitle:   true,
		maxAttempts: defaultMaxAttempts,
		backoff: func(attempt int) time.Duration {
			return retryBaseDelay * time.Duration(1<<uint(attempt))
		},
		status: StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current send state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stop aborts the in-flight send, if any. The send finishes with
// StatusStopped, which is not an error.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Send runs one chat turn to completion. It returns an error only when the
// POST never produced a stream (after retries) or the stream reader failed
// for a reason other than abort; in-band error events are reported through
// Result.ErrorMessage instead.
func (c *Client) Send(ctx context.Context, opts SendOptions) (*Result, error) {
	c.mu.Lock()
	if c.status == StatusConnecting || c.status == StatusStreaming {
		c.mu.Unlock()
		return nil, fmt.Errorf("send already in flight")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.status = StatusConnecting
	c.mu.Unlock()
	defer cancel()

	// Optimistic insert before any network traffic; invalidation on every
	// terminal path hands reconciliation to the next canonical fetch.
	c.cache.InsertOptimistic(opts.ConversationID, OptimisticMessage{
		ID:      TempMessageID(),
		Role:    domain.RoleUser,
		Content: opts.Content,
	})
	defer c.cache.Invalidate(opts.ConversationID)

	resp, err := c.postWithRetry(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			c.setStatus(StatusStopped)
			return &Result{Status: StatusStopped}, nil
		}
		c.setStatus(StatusError)
		return &Result{Status: StatusError}, err
	}
	defer resp.Body.Close()

	c.setStatus(StatusStreaming)
	result, err := c.consumeStream(ctx, resp.Body, opts)
	if err != nil {
		c.setStatus(StatusError)
		result.Status = StatusError
		return result, err
	}

	c.setStatus(result.Status)
	if result.Status == StatusIdle && result.Content != "" && c.autoTitle {
		go c.requestTitle(opts.ConversationID)
	}
	return result, nil
}

// postWithRetry issues the initial POST with up to maxAttempts attempts.
// Only 429, 5xx and network errors are retried; any other non-2xx status is
// terminal immediately. The abort signal is checked before each attempt and
// each wait.
func (c *Client) postWithRetry(ctx context.Context, opts SendOptions) (*http.Response, error) {
	body, err := json.Marshal(map[string]any{
		"content":              opts.Content,
		"model":                opts.Model,
		"maxTokens":            opts.MaxTokens,
		"temperature":          opts.Temperature,
		"topP":                 opts.TopP,
		"attachments":          opts.Attachments,
		"systemInstructions":   opts.SystemInstructions,
		"templateSystemPrompt": opts.TemplateSystemPrompt,
		"skillSystemPrompt":    opts.SkillSystemPrompt,
		"enabledMcpTools":      opts.EnabledMcpTools,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/api/conversations/%s/messages", c.baseURL, opts.ConversationID)

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err == nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
			if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
				// Other 4xx is terminal, no retry.
				return nil, lastErr
			}
		} else {
			lastErr = err
		}

		if attempt == c.maxAttempts-1 {
			break
		}
		c.logger.Debug("retrying send", "attempt", attempt+1, "error", lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff(attempt)):
		}
	}
	return nil, fmt.Errorf("send failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// consumeStream feeds the response body through the buffered SSE parser and
// folds events into a Result. A mid-stream error event is recorded without
// halting consumption; only a read failure or abort ends the loop early.
func (c *Client) consumeStream(ctx context.Context, body io.Reader, opts SendOptions) (*Result, error) {
	result := &Result{Status: StatusIdle}
	var accum strings.Builder

	parser := sse.NewParser(func(ev sse.Event) {
		var event domain.StreamEvent
		if err := json.Unmarshal(ev.Data, &event); err != nil {
			c.logger.Warn("undecodable stream event", "raw", ev.Raw, "error", err)
			return
		}
		if event.Content != "" {
			accum.WriteString(event.Content)
			if opts.OnContent != nil {
				opts.OnContent(accum.String())
			}
		}
		if event.Error != "" {
			result.ErrorMessage = event.Error
		}
		if event.Done {
			result.Usage = event.Usage
		}
	}, func(perr sse.ParseError) {
		// Malformed lines are observability, not failures.
		c.logger.Warn("malformed stream line", "raw", perr.Raw, "error", perr.Err)
	})

	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			parser.Feed(string(buf[:n]))
		}
		if err == io.EOF {
			parser.Flush()
			break
		}
		if err != nil {
			result.Content = accum.String()
			if ctx.Err() != nil {
				result.Status = StatusStopped
				return result, nil
			}
			return result, fmt.Errorf("read stream: %w", err)
		}
	}

	result.Content = accum.String()
	if ctx.Err() != nil {
		result.Status = StatusStopped
	}
	return result, nil
}

// requestTitle fires the best-effort auto-title call. Failures are swallowed;
// the feature is cosmetic.
func (c *Client) requestTitle(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/conversations/%s/auto-title", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("auto-title request failed", "error", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
