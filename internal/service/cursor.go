package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wechat_sync/internal/domain"
)

// Cursor is the durable resume point of the orchestrator. An ephemeral
// cursor starts from the newest article and never persists anything.
type Cursor struct {
	store     ProgressStore
	ephemeral bool
	logger    *slog.Logger
	now       func() time.Time
}

func NewCursor(store ProgressStore, ephemeral bool, logger *slog.Logger) *Cursor {
	return &Cursor{
		store:     store,
		ephemeral: ephemeral,
		logger:    logger.With("component", "cursor"),
		now:       time.Now,
	}
}

func (c *Cursor) Ephemeral() bool {
	return c.ephemeral
}

// Read never fails: an unreadable store yields a fresh cursor.
func (c *Cursor) Read(ctx context.Context) domain.Progress {
	stored, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to read progress, starting from scratch", "error", err)
		return domain.FreshProgress()
	}
	if stored == nil {
		return domain.FreshProgress()
	}

	if c.ephemeral {
		c.logger.Info("ephemeral cursor, starting from newest article",
			"stored_index", stored.LastSyncedIndex,
		)
		return domain.Progress{LastSyncedIndex: -1, TotalProcessed: stored.TotalProcessed}
	}
	return *stored
}

// Write records index as the last synced article. It is a no-op for an
// ephemeral cursor.
func (c *Cursor) Write(ctx context.Context, index, totalProcessed int) error {
	if c.ephemeral {
		return nil
	}
	p := &domain.Progress{
		LastSyncedIndex: index,
		TotalProcessed:  totalProcessed,
		LastUpdateTime:  c.now().UTC(),
	}
	if err := c.store.Save(ctx, p); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// Reset persists a fresh cursor.
func (c *Cursor) Reset(ctx context.Context) error {
	p := domain.FreshProgress()
	p.LastUpdateTime = c.now().UTC()
	if err := c.store.Save(ctx, &p); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	c.logger.Info("progress reset")
	return nil
}
