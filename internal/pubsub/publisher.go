// Package pubsub abstracts the outbound event transport behind a
// publish-only sink, backed by Redis pub/sub in production.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"binance-market-pipeline/internal/logging"
)

// Channel names consumed by downstream services
const (
	ChannelCandleUpdate  = "candle_update"
	ChannelMetricsUpdate = "market_metrics_update"
	ChannelAlert         = "trading_alert"
)

// Publisher is the publish-only event sink
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
	Close() error
}

// RedisPublisher publishes JSON payloads to Redis channels
type RedisPublisher struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisPublisher(addr, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPublisher{
		client: client,
		logger: logging.Component("pubsub"),
	}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", channel, err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NopPublisher drops all events; used when Redis is disabled
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	return nil
}

func (NopPublisher) Close() error { return nil }
