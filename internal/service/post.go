package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"wechat_sync/internal/domain"
)

// PostService converts source articles into posts and writes them.
type PostService struct {
	transformer Transformer
	store       PostStore
	publisher   Publisher
	logger      *slog.Logger
}

// NewPostService creates a PostService. publisher may be nil.
func NewPostService(transformer Transformer, store PostStore, publisher Publisher, logger *slog.Logger) *PostService {
	return &PostService{
		transformer: transformer,
		store:       store,
		publisher:   publisher,
		logger:      logger.With("component", "posts"),
	}
}

// Upsert writes the post for article, replacing any stored version. The
// publishedAt of an existing post is carried over unchanged.
func (s *PostService) Upsert(ctx context.Context, article *domain.Article) (*domain.Post, error) {
	id := domain.PostID(article.MediaID)

	existing, err := s.store.FindPost(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find post %s: %w", id, err)
	}

	publishedAt := article.UpdateTime.UTC()
	if existing != nil && !existing.PublishedAt.IsZero() {
		publishedAt = existing.PublishedAt
	}

	author := strings.TrimSpace(article.Author)
	if author == "" {
		author = domain.DefaultAuthor
	}

	post := &domain.Post{
		ID:            id,
		Type:          domain.PostType,
		Title:         article.Title,
		Slug:          id,
		Blocks:        s.transformer.Transform(ctx, article.HTMLContent),
		Language:      domain.PostLanguage,
		PublishedAt:   publishedAt,
		Source:        domain.PostSource,
		SourceMediaID: article.MediaID,
		SourceURL:     article.URL,
		Excerpt:       article.Digest,
		Author:        author,
	}

	written, err := s.store.ReplacePost(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("replace post %s: %w", id, err)
	}

	isNew := existing == nil
	s.logger.Debug("post written",
		"id", written.ID,
		"new", isNew,
		"blocks", len(written.Blocks),
	)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, written, isNew); err != nil {
			s.logger.Warn("failed to publish post event", "id", written.ID, "error", err)
		}
	}

	return written, nil
}
