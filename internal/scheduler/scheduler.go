package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wechat_sync/internal/domain"
)

// Syncer defines the interface for sync operations.
type Syncer interface {
	Sync(ctx context.Context) (*domain.SyncStats, error)
}

// Scheduler re-runs a Syncer at a fixed interval. Each run resumes from the
// cursor left by the previous one.
type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(syncer Syncer, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		interval: interval,
		logger:   logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runSync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

// runSync has no deadline of its own: a run paces itself with item delays
// and may legitimately take hours.
func (s *Scheduler) runSync(ctx context.Context) {
	stats, err := s.syncer.Sync(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("sync failed", "error", err)
		return
	}
	s.logger.Info("sync run finished",
		"processed", stats.Processed,
		"errors", stats.Errors,
		"next_run_in", s.interval,
	)
}
