package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"wechat_sync/internal/domain"
)

type Source interface {
	ID() string
	Name() string
	Count(ctx context.Context) (int, error)
	FetchBatch(ctx context.Context, offset, count int) ([]domain.SourceItem, error)
}

type Transformer interface {
	Transform(ctx context.Context, html string) []domain.Block
}

// PostStore returns a nil post and nil error from FindPost when the id is
// unknown. ReplacePost overwrites the whole document.
type PostStore interface {
	FindPost(ctx context.Context, id string) (*domain.Post, error)
	ReplacePost(ctx context.Context, post *domain.Post) (*domain.Post, error)
}

type ProgressStore interface {
	Load(ctx context.Context) (*domain.Progress, error)
	Save(ctx context.Context, progress *domain.Progress) error
}

type Publisher interface {
	Publish(ctx context.Context, post *domain.Post, isNew bool) error
	Close() error
}

type Upserter interface {
	Upsert(ctx context.Context, article *domain.Article) (*domain.Post, error)
}
