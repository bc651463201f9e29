package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dontdude/goscribe/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisBus implements domain.EventBus on Redis Pub/Sub, so every server
// instance sharing the Redis sees the progress of every batch.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// Ensure RedisBus satisfies the interface
var _ domain.EventBus = (*RedisBus)(nil)

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, addr, channel string) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Fail-fast ping check
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w: %w", addr, err, domain.ErrStartup)
	}

	slog.Info("Redis event bus connected", "addr", addr, "channel", channel)
	return &RedisBus{
		client:  rdb,
		channel: channel,
	}, nil
}

// Publish sends the event to the channel using PUBLISH.
func (r *RedisBus) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe subscribes to the channel and streams decoded events to a Go channel.
func (r *RedisBus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	// Create the PubSub connection
	pubsub := r.client.Subscribe(ctx, r.channel)

	// Wait for confirmation that we are subscribed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	outCh := make(chan domain.Event)

	// Spawn background listener
	go func() {
		defer close(outCh)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Error("Failed to unmarshal event", "error", err)
					continue
				}

				select {
				case outCh <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outCh, nil
}

// Close closes the Redis client.
func (r *RedisBus) Close() error {
	return r.client.Close()
}
