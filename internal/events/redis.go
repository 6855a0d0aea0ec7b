package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/pkg/types"
)

// DefaultChannel is the Redis pub/sub channel lifecycle events are
// mirrored to.
const DefaultChannel = "entity-core:events"

// RedisConfig configures the optional Redis event bridge.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// DefaultRedisConfig returns bridge defaults (disabled).
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:    "localhost",
		Port:    6379,
		Channel: DefaultChannel,
	}
}

// RedisBridge mirrors lifecycle events to a Redis pub/sub channel so
// off-process consumers can observe the store. Publish failures are
// logged and swallowed, matching the bus contract.
type RedisBridge struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

// NewRedisBridge connects to Redis and returns a bridge.
func NewRedisBridge(cfg RedisConfig, logger *zap.Logger) (*RedisBridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	return &RedisBridge{
		client:  client,
		channel: channel,
		logger:  logger,
	}, nil
}

// NewRedisBridgeWithClient wraps an existing client (used in tests).
func NewRedisBridgeWithClient(client redis.UniversalClient, channel string, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{client: client, channel: channel, logger: logger}
}

// HandleEvent publishes the event as JSON. Intended to be subscribed
// on a Broadcaster.
func (b *RedisBridge) HandleEvent(event types.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", zap.String("event", event.Type), zap.Error(err))
		return
	}

	if err := b.client.Publish(context.Background(), b.channel, payload).Err(); err != nil {
		b.logger.Warn("Failed to publish event to redis",
			zap.String("event", event.Type),
			zap.String("channel", b.channel),
			zap.Error(err),
		)
	}
}

// Close releases the Redis connection.
func (b *RedisBridge) Close() error {
	return b.client.Close()
}
