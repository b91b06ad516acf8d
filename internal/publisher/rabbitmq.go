package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"wechat_sync/internal/domain"
)

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger.With("component", "publisher"),
	}, nil
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// PostMessage announces that a post was written to the document store.
type PostMessage struct {
	Action    string      `json:"action"`
	Post      postPayload `json:"post"`
	Timestamp time.Time   `json:"timestamp"`
}

type postPayload struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Slug          string         `json:"slug"`
	Language      string         `json:"language"`
	PublishedAt   time.Time      `json:"publishedAt"`
	Source        string         `json:"source"`
	SourceMediaID string         `json:"sourceMediaId"`
	SourceURL     string         `json:"sourceUrl"`
	Excerpt       string         `json:"excerpt,omitempty"`
	Author        string         `json:"author"`
	Blocks        []domain.Block `json:"blocks"`
}

func newPostMessage(post *domain.Post, isNew bool, now time.Time) PostMessage {
	action := ActionUpdate
	if isNew {
		action = ActionCreate
	}
	return PostMessage{
		Action: action,
		Post: postPayload{
			ID:            post.ID,
			Title:         post.Title,
			Slug:          post.Slug,
			Language:      post.Language,
			PublishedAt:   post.PublishedAt,
			Source:        post.Source,
			SourceMediaID: post.SourceMediaID,
			SourceURL:     post.SourceURL,
			Excerpt:       post.Excerpt,
			Author:        post.Author,
			Blocks:        post.Blocks,
		},
		Timestamp: now,
	}
}

func (r *RabbitMQ) Publish(ctx context.Context, post *domain.Post, isNew bool) error {
	msg := newPostMessage(post, isNew, time.Now().UTC())

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    post.ID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	r.logger.Debug("published post",
		"post_id", post.ID,
		"action", msg.Action,
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
