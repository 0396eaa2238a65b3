// Command server runs the chat streaming backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"falcon-core/internal/adapter/gateway"
	"falcon-core/internal/adapter/llm"
	"falcon-core/internal/adapter/store"
	"falcon-core/internal/domain"
	"falcon-core/internal/infra/config"
	"falcon-core/internal/infra/logger"
	"falcon-core/internal/infra/tracer"
	"falcon-core/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	sweeper := store.NewRetentionSweeper(st, cfg.Store, log)
	sweeper.Start()
	defer sweeper.Stop()

	registry, err := buildProviders(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init providers: %w", err)
	}

	router := llm.NewModelRouter(registry)
	streamer := usecase.NewStreamer(router, log)
	titles := usecase.NewTitleGenerator(streamer, st, cfg.LLM.TitleModel, log)

	srv := gateway.New(gateway.Options{
		Config:        cfg.Server,
		Store:         st,
		Streamer:      streamer,
		Titles:        titles,
		Registry:      registry,
		GeneralPrompt: cfg.LLM.GeneralPrompt,
		Logger:        log,
	})

	log.Info("starting", "providers", registry.List(), "store", cfg.Store.Path)
	return srv.Start(ctx)
}

// buildProviders constructs one adapter per configured provider, each wrapped
// in a circuit breaker, and registers them for routing.
func buildProviders(ctx context.Context, cfg *config.Config, log *slog.Logger) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	for _, pc := range cfg.LLM.Providers {
		var provider domain.StreamProvider

		switch pc.Name {
		case llm.ProviderOpenAI:
			provider = llm.NewOpenAIProvider(pc, log)
		case llm.ProviderAnthropic:
			provider = llm.NewAnthropicProvider(pc, log)
		case llm.ProviderGoogle:
			p, err := llm.NewGeminiProvider(ctx, pc, log)
			if err != nil {
				return nil, err
			}
			provider = p
		case llm.ProviderOpenRouter:
			provider = llm.NewOpenRouterProvider(pc, log)
		default:
			return nil, fmt.Errorf("unknown provider %q", pc.Name)
		}

		wrapped := llm.NewCircuitBreakerProvider(provider, cfg.LLM.CircuitBreaker, log)
		if err := registry.Register(wrapped); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
