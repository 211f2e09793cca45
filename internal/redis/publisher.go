package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mariadb-cdc/internal/models"
)

const publishTimeout = 5 * time.Second

// Publisher appends change events to a Redis stream
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *logrus.Logger
}

// NewPublisher connects to Redis and checks the connection
func NewPublisher(ctx context.Context, addr, password string, db int, stream string, maxLen int64, logger *logrus.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Infof("Connected to Redis at %s, stream %s", addr, stream)
	return NewPublisherWithClient(client, stream, maxLen, logger), nil
}

// NewPublisherWithClient publishes through an existing client
func NewPublisherWithClient(client *redis.Client, stream string, maxLen int64, logger *logrus.Logger) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

// Args builds the XADD arguments for an event
func (p *Publisher) Args(event *models.ChangeEvent) (*redis.XAddArgs, error) {
	data := event.RawJSON
	if len(data) == 0 {
		var err error
		if data, err = json.Marshal(event); err != nil {
			return nil, fmt.Errorf("failed to marshal event: %w", err)
		}
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"payload":   string(data),
			"database":  event.Database,
			"table":     event.Table,
			"operation": string(event.Operation),
			"log_pos":   event.LogPos,
			"ts":        event.Timestamp,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return args, nil
}

// Publish appends a change event to the stream
func (p *Publisher) Publish(event *models.ChangeEvent) error {
	args, err := p.Args(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	p.logger.Debugf("Published %s event for %s.%s as %s", event.Operation, event.Database, event.Table, id)
	return nil
}

// Close closes the Redis client
func (p *Publisher) Close() error {
	return p.client.Close()
}
