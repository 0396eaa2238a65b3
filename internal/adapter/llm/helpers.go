package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"falcon-core/internal/domain"
	"falcon-core/internal/infra/config"
	"falcon-core/internal/sse"
)

// maxErrorBody caps how much of an upstream error body we read back.
const maxErrorBody = 4096

// Default provider timeouts.
const (
	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// Default connection pool settings optimized for LLM API usage patterns:
// few hosts, high concurrency, long-lived connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling
// suitable for long-lived streaming calls to LLM APIs.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient creates an *http.Client with pooled transport and timeout
// defaults suitable for streaming LLM providers. The client-level Timeout is
// deliberately unset: it would cut off long streams; per-phase timeouts live
// on the transport instead.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	connTimeout := cfg.ConnTimeout
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	respTimeout := cfg.RespTimeout
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	return &http.Client{
		Transport: NewPooledTransport(connTimeout, respTimeout, cfg.Pool),
	}
}

// doStreamRequest performs a JSON POST request for SSE streaming and returns
// the open *http.Response (caller must close Body). A non-200 response is
// consumed and mapped to a domain error before any streaming begins, since
// providers return structured errors synchronously on bad requests/auth.
func doStreamRequest(ctx context.Context, client *http.Client, provider, url string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, mapHTTPError(provider, httpResp.StatusCode, respBody)
	}

	return httpResp, nil
}

// mapHTTPError maps an upstream HTTP status code + response body to a domain
// error carrying the provider name, status, and body text.
func mapHTTPError(provider string, statusCode int, body []byte) error {
	detail := fmt.Sprintf("%s API error %d: %s", provider, statusCode, string(body))

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}

// readSSEBody drains an SSE response body through the buffered line parser,
// handing every complete data payload to handleEvent. Lines that are not
// valid JSON are logged and skipped. Returns when the body is fully drained
// or ctx is cancelled.
func readSSEBody(ctx context.Context, body io.ReadCloser, logger *slog.Logger, handleEvent func(data json.RawMessage) error) error {
	defer body.Close()

	var handleErr error
	parser := sse.NewParser(
		func(e sse.Event) {
			if handleErr != nil {
				return
			}
			handleErr = handleEvent(e.Data)
		},
		func(pe sse.ParseError) {
			logger.Warn("skipping malformed sse line", "raw", pe.Raw, "error", pe.Err)
		},
	)

	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := body.Read(buf)
		if n > 0 {
			parser.Feed(string(buf[:n]))
			if handleErr != nil {
				return handleErr
			}
		}
		if err == io.EOF {
			parser.Flush()
			return handleErr
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

// logStreamCompleted logs the standard debug message after a provider stream
// has drained.
func logStreamCompleted(logger *slog.Logger, providerName, model string, usage domain.Usage) {
	attrs := []any{"provider", providerName, "model", model}
	if usage.TotalTokens != nil {
		attrs = append(attrs, "tokens", *usage.TotalTokens)
	}
	logger.Debug("llm stream completed", attrs...)
}
