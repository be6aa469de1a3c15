// Package redis publishes notifications onto Redis Streams.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// payloadField is the stream entry field carrying the JSON payload.
const payloadField = "payload"

// Config controls stream trimming.
type Config struct {
	// MaxLen approximately caps each stream; zero keeps every entry.
	MaxLen int64
}

// Publisher appends JSON payloads to a stream named after the topic.
type Publisher struct {
	client redis.UniversalClient
	cfg    Config
}

// New wraps an existing client.
func New(client redis.UniversalClient, cfg Config) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Publisher{client: client, cfg: cfg}, nil
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int, cfg Config) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(client, cfg)
}

// Publish XADDs the payload and returns the stream entry ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("stream name is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{payloadField: string(data)},
	}
	if p.cfg.MaxLen > 0 {
		args.MaxLen = p.cfg.MaxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("publish to stream %s: %w", topic, err)
	}
	return id, nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
