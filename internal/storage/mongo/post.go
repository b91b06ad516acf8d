package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"wechat_sync/internal/domain"
)

// Connect opens a client, verifies it with a ping and ensures the post
// indexes exist.
func Connect(ctx context.Context, uri, database, collection string) (*mongo.Client, *PostStore, error) {
	cl, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cl.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = cl.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	store := NewPostStore(cl.Database(database).Collection(collection))
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = cl.Disconnect(ctx)
		return nil, nil, err
	}
	return cl, store, nil
}

type PostStore struct {
	col *mongo.Collection
}

func NewPostStore(col *mongo.Collection) *PostStore {
	return &PostStore{col: col}
}

type postDocument struct {
	ID            string         `bson:"_id"`
	Type          string         `bson:"type"`
	Title         string         `bson:"title"`
	Slug          string         `bson:"slug"`
	Blocks        []domain.Block `bson:"blocks"`
	Language      string         `bson:"language"`
	PublishedAt   time.Time      `bson:"published_at"`
	Source        string         `bson:"source"`
	SourceMediaID string         `bson:"source_media_id"`
	SourceURL     string         `bson:"source_url"`
	Excerpt       string         `bson:"excerpt"`
	Author        string         `bson:"author"`
	UpdatedAt     time.Time      `bson:"updated_at"`
}

func (s *PostStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "published_at", Value: -1}},
			Options: options.Index().SetName("idx_published_at_desc"),
		},
		{
			Keys:    bson.D{{Key: "source_media_id", Value: 1}},
			Options: options.Index().SetName("idx_source_media_id"),
		},
	})
	if err != nil {
		return fmt.Errorf("ensure post indexes: %w", err)
	}
	return nil
}

// FindPost returns nil when no document has the given id.
func (s *PostStore) FindPost(ctx context.Context, id string) (*domain.Post, error) {
	var doc postDocument
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &domain.Post{
		ID:            doc.ID,
		Type:          doc.Type,
		Title:         doc.Title,
		Slug:          doc.Slug,
		Blocks:        doc.Blocks,
		Language:      doc.Language,
		PublishedAt:   doc.PublishedAt,
		Source:        doc.Source,
		SourceMediaID: doc.SourceMediaID,
		SourceURL:     doc.SourceURL,
		Excerpt:       doc.Excerpt,
		Author:        doc.Author,
	}, nil
}

// ReplacePost replaces the whole document, inserting it when absent.
func (s *PostStore) ReplacePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	doc := postDocument{
		ID:            post.ID,
		Type:          post.Type,
		Title:         post.Title,
		Slug:          post.Slug,
		Blocks:        post.Blocks,
		Language:      post.Language,
		PublishedAt:   post.PublishedAt,
		Source:        post.Source,
		SourceMediaID: post.SourceMediaID,
		SourceURL:     post.SourceURL,
		Excerpt:       post.Excerpt,
		Author:        post.Author,
		UpdatedAt:     time.Now().UTC(),
	}

	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": post.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return nil, err
	}
	return post, nil
}
