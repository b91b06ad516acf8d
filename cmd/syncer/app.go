package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"wechat_sync/internal/assets"
	"wechat_sync/internal/config"
	"wechat_sync/internal/content"
	"wechat_sync/internal/publisher"
	"wechat_sync/internal/service"
	"wechat_sync/internal/sink/sanity"
	"wechat_sync/internal/source/wechat"
	"wechat_sync/internal/storage/file"
	"wechat_sync/internal/storage/mongo"
	"wechat_sync/internal/storage/postgres"
	"wechat_sync/internal/storage/s3"
)

// app owns the clients of one process. Sinks are only built when the run
// writes anything.
type app struct {
	source service.Source
	posts  service.Upserter
	cursor *service.Cursor

	db        *sqlx.DB
	mongo     *mongodriver.Client
	publisher service.Publisher
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.source = wechat.New(wechat.Config{
		BaseURL:        cfg.WeChat.BaseURL,
		AppID:          cfg.WeChat.AppID,
		Secret:         cfg.WeChat.Secret,
		Listing:        cfg.WeChat.Listing,
		Timeout:        cfg.WeChat.Timeout,
		MaxAttempts:    cfg.WeChat.Retry.MaxAttempts,
		InitialBackoff: cfg.WeChat.Retry.InitialBackoff,
		MaxBackoff:     cfg.WeChat.Retry.MaxBackoff,
	}, logger)

	if cfg.UsesPostgres() {
		db, err := sqlx.Connect("postgres", cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		logger.Info("connected to database")
	}

	var progress service.ProgressStore
	switch cfg.Storage.Progress {
	case config.DriverPostgres:
		progress = postgres.NewProgressStore(a.db, wechat.SourceID)
	default:
		progress = file.NewProgressStore(cfg.Storage.ProgressFile)
	}
	a.cursor = service.NewCursor(progress, opts.latest, logger)

	if opts.check {
		return a, nil
	}

	sanityClient := sanity.NewClient(sanity.Config{
		ProjectID:  cfg.Sanity.ProjectID,
		Dataset:    cfg.Sanity.Dataset,
		Token:      cfg.Sanity.Token,
		APIVersion: cfg.Sanity.APIVersion,
		APIHost:    cfg.Sanity.APIHost,
		Timeout:    cfg.Sanity.Timeout,
	}, logger)

	var uploader assets.Uploader = sanityClient
	if cfg.Storage.Assets == config.DriverS3 {
		store, err := s3.NewAssetStore(ctx, s3.Config{
			Bucket:        cfg.S3.Bucket,
			Prefix:        cfg.S3.Prefix,
			Region:        cfg.S3.Region,
			Endpoint:      cfg.S3.Endpoint,
			PublicBaseURL: cfg.S3.PublicBaseURL,
			UsePathStyle:  cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 asset store: %w", err)
		}
		uploader = store
	}

	resolver := assets.NewResolver(assets.Config{
		UserAgent: cfg.Sync.UserAgent,
		Timeout:   cfg.Sync.ImageTimeout,
	}, uploader, logger)

	transformer, err := content.NewTransformer(resolver, cfg.Sync.ImageHostPattern, logger)
	if err != nil {
		return nil, fmt.Errorf("create transformer: %w", err)
	}

	var documents service.PostStore
	switch cfg.Storage.Documents {
	case config.DriverMongo:
		client, store, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			return nil, err
		}
		a.mongo = client
		documents = store
		logger.Info("connected to mongo", "database", cfg.Mongo.Database)
	case config.DriverPostgres:
		documents = postgres.NewPostStore(a.db)
	default:
		documents = sanityClient
	}

	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		a.publisher = rabbitMQ
	}

	a.posts = service.NewPostService(transformer, documents, a.publisher, logger)
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close publisher", "error", err)
		}
	}
	if a.mongo != nil {
		if err := a.mongo.Disconnect(ctx); err != nil {
			a.logger.Warn("failed to disconnect mongo", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
