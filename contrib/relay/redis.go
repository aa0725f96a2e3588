package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/surrealdb/scenesync/pkg/logger"
)

// RedisBackplane fans frames out through redis pub/sub, one redis channel
// per room.
type RedisBackplane struct {
	client *redis.Client
	prefix string
	logger logger.Logger
}

var _ Backplane = (*RedisBackplane)(nil)

func NewRedisBackplane(client *redis.Client, prefix string, log logger.Logger) *RedisBackplane {
	return &RedisBackplane{client: client, prefix: prefix, logger: logger.OrDiscard(log)}
}

// DialRedis connects to addr and checks the server answers.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (b *RedisBackplane) channel(room string) string {
	return b.prefix + room
}

func (b *RedisBackplane) Publish(ctx context.Context, env Envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return b.client.Publish(ctx, b.channel(env.Room), data).Err()
}

func (b *RedisBackplane) Subscribe(ctx context.Context, room string, fn func(Envelope)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel(room))
	// Wait for the subscription to be confirmed so nothing published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to room %s: %w", room, err)
	}

	ch := pubsub.Channel()
	go func() {
		for msg := range ch {
			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("relay dropped undecodable backplane message", "room", room, "error", err)
				continue
			}
			fn(env)
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Debug("relay failed to close subscription", "room", room, "error", err)
		}
	}, nil
}

func (b *RedisBackplane) Close() error {
	return b.client.Close()
}
