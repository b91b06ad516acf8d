package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"wechat_sync/internal/domain"
)

type PostStore struct {
	db *sqlx.DB
}

func NewPostStore(db *sqlx.DB) *PostStore {
	return &PostStore{db: db}
}

type postRow struct {
	ID            string    `db:"id"`
	Type          string    `db:"type"`
	Title         string    `db:"title"`
	Slug          string    `db:"slug"`
	Blocks        []byte    `db:"blocks"`
	Language      string    `db:"language"`
	PublishedAt   time.Time `db:"published_at"`
	Source        string    `db:"source"`
	SourceMediaID string    `db:"source_media_id"`
	SourceURL     string    `db:"source_url"`
	Excerpt       string    `db:"excerpt"`
	Author        string    `db:"author"`
}

// FindPost returns nil when no row exists for id.
func (s *PostStore) FindPost(ctx context.Context, id string) (*domain.Post, error) {
	var row postRow
	query := `
		SELECT id, type, title, slug, blocks, language, published_at,
			source, source_media_id, source_url, excerpt, author
		FROM posts
		WHERE id = $1`

	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	post := &domain.Post{
		ID:            row.ID,
		Type:          row.Type,
		Title:         row.Title,
		Slug:          row.Slug,
		Language:      row.Language,
		PublishedAt:   row.PublishedAt,
		Source:        row.Source,
		SourceMediaID: row.SourceMediaID,
		SourceURL:     row.SourceURL,
		Excerpt:       row.Excerpt,
		Author:        row.Author,
	}
	if err := json.Unmarshal(row.Blocks, &post.Blocks); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}
	return post, nil
}

// ReplacePost overwrites every column of the row keyed by post.ID.
func (s *PostStore) ReplacePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	blocks, err := json.Marshal(post.Blocks)
	if err != nil {
		return nil, fmt.Errorf("encode blocks: %w", err)
	}

	query := `
		INSERT INTO posts (
			id, type, title, slug, blocks, language, published_at,
			source, source_media_id, source_url, excerpt, author, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			title = EXCLUDED.title,
			slug = EXCLUDED.slug,
			blocks = EXCLUDED.blocks,
			language = EXCLUDED.language,
			published_at = EXCLUDED.published_at,
			source = EXCLUDED.source,
			source_media_id = EXCLUDED.source_media_id,
			source_url = EXCLUDED.source_url,
			excerpt = EXCLUDED.excerpt,
			author = EXCLUDED.author,
			updated_at = NOW()`

	_, err = s.db.ExecContext(ctx, query,
		post.ID,
		post.Type,
		post.Title,
		post.Slug,
		blocks,
		post.Language,
		post.PublishedAt,
		post.Source,
		post.SourceMediaID,
		post.SourceURL,
		post.Excerpt,
		post.Author,
	)
	if err != nil {
		return nil, err
	}
	return post, nil
}
