package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wechat_sync/internal/config"
	"wechat_sync/internal/domain"
)

// RunOptions select the behavior of a single run. A Limit of zero or less
// means no limit. Check lists articles without writing anything and without
// pausing between batches.
type RunOptions struct {
	Limit int
	Check bool
}

type SyncService struct {
	source Source
	posts  Upserter
	cursor *Cursor
	logger *slog.Logger
	config config.SyncConfig
	opts   RunOptions
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewSyncService creates the orchestrator. posts may be nil when
// opts.Check is set.
func NewSyncService(
	source Source,
	posts Upserter,
	cursor *Cursor,
	logger *slog.Logger,
	cfg config.SyncConfig,
	opts RunOptions,
) *SyncService {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &SyncService{
		source: source,
		posts:  posts,
		cursor: cursor,
		logger: logger.With("source", source.ID()),
		config: cfg,
		opts:   opts,
		sleep:  wait,
	}
}

// run tracks the position within one Sync call.
type run struct {
	stats   *domain.SyncStats
	handled int
}

func (s *SyncService) limitReached(r *run) bool {
	return s.opts.Limit > 0 && r.handled >= s.opts.Limit
}

// Sync processes articles from the cursor position onwards, in source
// order. Batch and article failures are counted and skipped. The returned
// error is non-nil only when the count cannot be read or ctx is done.
func (s *SyncService) Sync(ctx context.Context) (*domain.SyncStats, error) {
	startTime := time.Now()

	progress := s.cursor.Read(ctx)

	total, err := s.source.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}

	start := progress.LastSyncedIndex + 1
	end := total
	if s.opts.Limit > 0 && start+s.opts.Limit < end {
		end = start + s.opts.Limit
	}

	r := &run{stats: &domain.SyncStats{
		SourceID:       s.source.ID(),
		Total:          total,
		Start:          start,
		End:            end,
		TotalProcessed: progress.TotalProcessed,
	}}

	s.logger.Info("starting sync",
		"source_name", s.source.Name(),
		"total", total,
		"start", start,
		"end", end,
		"limit", s.opts.Limit,
		"check", s.opts.Check,
		"ephemeral", s.cursor.Ephemeral(),
	)

	if end <= start {
		s.logger.Info("all articles already synced", "total_processed", progress.TotalProcessed)
		r.stats.Duration = time.Since(startTime)
		return r.stats, nil
	}

	batchSize := s.config.BatchSize
	batches := (end - start + batchSize - 1) / batchSize

	for batch := 0; batch < batches; batch++ {
		offset := start + batch*batchSize
		count := min(batchSize, end-offset)

		s.logger.Info("processing batch",
			"batch", batch+1,
			"batches", batches,
			"offset", offset,
		)

		items, err := s.source.FetchBatch(ctx, offset, count)
		if err != nil {
			if ctx.Err() != nil {
				return s.finish(r, startTime), ctx.Err()
			}
			r.stats.Errors++
			s.logger.Error("failed to fetch batch", "batch", batch+1, "offset", offset, "error", err)
			continue
		}

		if err := s.processBatch(ctx, r, offset, items); err != nil {
			return s.finish(r, startTime), err
		}

		if s.limitReached(r) {
			s.logger.Info("run limit reached", "limit", s.opts.Limit)
			break
		}

		if batch < batches-1 && !s.opts.Check {
			if err := s.sleep(ctx, s.config.BatchDelay); err != nil {
				return s.finish(r, startTime), err
			}
		}
	}

	return s.finish(r, startTime), nil
}

// processBatch handles the articles of one page. Item i of the page has
// source index offset+i; all articles bundled in an item share it.
func (s *SyncService) processBatch(ctx context.Context, r *run, offset int, items []domain.SourceItem) error {
	for i := range items {
		item := &items[i]
		index := offset + i

		for j := range item.Articles {
			if s.limitReached(r) {
				return nil
			}

			article := &item.Articles[j]
			s.logger.Info("article",
				"index", index+1,
				"total", r.stats.Total,
				"date", article.UpdateTime.UTC().Format(time.DateOnly),
				"title", article.Title,
			)

			if s.opts.Check {
				author := article.Author
				if author == "" {
					author = domain.DefaultAuthor
				}
				s.logger.Info("checked article", "author", author, "digest", article.Digest)
				r.stats.Checked++
				r.handled++
				continue
			}

			if err := s.syncArticle(ctx, r, index, article); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.stats.Errors++
				s.logger.Error("failed to sync article",
					"index", index,
					"media_id", article.MediaID,
					"error", err,
				)
				continue
			}

			if err := s.sleep(ctx, s.config.ItemDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SyncService) syncArticle(ctx context.Context, r *run, index int, article *domain.Article) error {
	post, err := s.posts.Upsert(ctx, article)
	if err != nil {
		return err
	}

	r.stats.Processed++
	r.stats.TotalProcessed++
	r.handled++

	s.logger.Info("article synced", "id", post.ID, "title", post.Title)

	if err := s.cursor.Write(ctx, index, r.stats.TotalProcessed); err != nil {
		// the post is already written; only the resume point is stale
		r.stats.Errors++
		s.logger.Error("failed to save progress", "index", index, "error", err)
	}
	return nil
}

func (s *SyncService) finish(r *run, startTime time.Time) *domain.SyncStats {
	r.stats.Duration = time.Since(startTime)

	s.logger.Info("sync completed",
		"processed", r.stats.Processed,
		"checked", r.stats.Checked,
		"total_processed", r.stats.TotalProcessed,
		"errors", r.stats.Errors,
		"duration", r.stats.Duration,
	)

	return r.stats
}

// wait pauses for d unless ctx is done first. Non-positive durations
// return immediately.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
