// Package gateway exposes the chat core over HTTP: conversation CRUD, the SSE
// streaming endpoint, and auto-titling.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"falcon-core/internal/adapter/llm"
	"falcon-core/internal/domain"
	"falcon-core/internal/infra/config"
	"falcon-core/internal/infra/middleware"
	"falcon-core/internal/usecase"
)

// Server is the HTTP front of the chat core.
type Server struct {
	cfg      config.ServerConfig
	store    domain.ConversationStore
	streamer *usecase.Streamer
	titles   *usecase.TitleGenerator
	registry *llm.Registry
	// generalPrompt is the user-level default system prompt, applied when a
	// conversation carries no project prompt and the request no override.
	generalPrompt string
	logger        *slog.Logger

	httpServer *http.Server
}

type Options struct {
	Config        config.ServerConfig
	Store         domain.ConversationStore
	Streamer      *usecase.Streamer
	Titles        *usecase.TitleGenerator
	Registry      *llm.Registry
	GeneralPrompt string
	Logger        *slog.Logger
}

func New(opts Options) *Server {
	return &Server{
		cfg:           opts.Config,
		store:         opts.Store,
		streamer:      opts.Streamer,
		titles:        opts.Titles,
		registry:      opts.Registry,
		generalPrompt: opts.GeneralPrompt,
		logger:        opts.Logger,
	}
}

// Routes assembles the chi router with the middleware stack. ctx bounds the
// rate limiter's cleanup goroutine.
func (s *Server) Routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.SecurityHeaders)
	if s.cfg.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimitWithConfig(ctx, middleware.RateLimitConfig{
			RequestsPerMin: s.cfg.RateLimitPerMin,
			BurstSize:      s.cfg.RateLimitBurst,
			TrustedProxies: s.cfg.TrustedProxies,
		}))
	}

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/conversations", func(r chi.Router) {
		r.Post("/", s.handleCreateConversation)
		r.Get("/", s.handleListConversations)
		r.Route("/{conversationID}", func(r chi.Router) {
			r.Get("/", s.handleGetConversation)
			r.Post("/messages", s.handleSendMessage)
			r.Post("/auto-title", s.handleAutoTitle)
		})
	})

	return r
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: SSE responses are long-lived by design.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
