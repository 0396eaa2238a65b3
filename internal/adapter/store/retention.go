package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"falcon-core/internal/domain"
	"falcon-core/internal/infra/config"
)

// RetentionSweeper periodically deletes conversations idle longer than the
// configured retention window.
type RetentionSweeper struct {
	store     domain.ConversationStore
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewRetentionSweeper builds a sweeper from store config. Returns nil when
// retention is disabled; callers treat a nil sweeper as a no-op.
func NewRetentionSweeper(st domain.ConversationStore, cfg config.StoreConfig, logger *slog.Logger) *RetentionSweeper {
	if cfg.Retention <= 0 {
		return nil
	}

	s := &RetentionSweeper{
		store:     st,
		retention: cfg.Retention,
		cron:      cron.New(),
		logger:    logger,
	}

	schedule := cfg.RetentionSchedule
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		logger.Error("invalid retention schedule, sweeper disabled",
			"schedule", schedule, "error", err)
		return nil
	}
	return s
}

// Start begins scheduled sweeps. Safe to call on a nil sweeper.
func (s *RetentionSweeper) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *RetentionSweeper) Stop() {
	if s == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *RetentionSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.retention)
	n, err := s.store.PurgeIdleBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("retention sweep", "purged", n, "cutoff", cutoff)
	}
}
