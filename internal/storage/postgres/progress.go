package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"wechat_sync/internal/domain"
)

// ProgressStore keeps one cursor row per source.
type ProgressStore struct {
	db       *sqlx.DB
	sourceID string
}

func NewProgressStore(db *sqlx.DB, sourceID string) *ProgressStore {
	return &ProgressStore{db: db, sourceID: sourceID}
}

func (s *ProgressStore) Load(ctx context.Context) (*domain.Progress, error) {
	var p domain.Progress
	query := `
		SELECT last_synced_index, total_processed, last_update_time
		FROM sync_progress
		WHERE source_id = $1`

	err := s.db.GetContext(ctx, &p, query, s.sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		// No row yet for new sources
		fresh := domain.FreshProgress()
		return &fresh, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ProgressStore) Save(ctx context.Context, p *domain.Progress) error {
	query := `
		INSERT INTO sync_progress (source_id, last_synced_index, total_processed, last_update_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id) DO UPDATE SET
			last_synced_index = EXCLUDED.last_synced_index,
			total_processed = EXCLUDED.total_processed,
			last_update_time = EXCLUDED.last_update_time`

	updated := p.LastUpdateTime
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		s.sourceID,
		p.LastSyncedIndex,
		p.TotalProcessed,
		updated,
	)
	return err
}
