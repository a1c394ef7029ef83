package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"docdigitizer/internal/redis"
)

// RedisNotifier publishes events on a per-document pub/sub channel so every
// API instance can serve progress streams.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisNotifier(client *redis.Client, prefix string, logger *zap.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = "docdigitizer"
	}
	return &RedisNotifier{client: client, prefix: prefix, logger: logger}
}

func (n *RedisNotifier) channel(documentID string) string {
	return n.prefix + ":events:" + documentID
}

func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.client.Raw().Publish(ctx, n.channel(ev.DocumentID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, documentID string) (<-chan Event, func(), error) {
	pubsub := n.client.Raw().Subscribe(ctx, n.channel(documentID))
	// wait for the server to confirm so no later publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe to document events: %w", err)
	}
	out := make(chan Event, subscriberBuffer)

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					n.logger.Warn("decode document event", zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}
