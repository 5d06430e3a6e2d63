package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes on Redis pub/sub channels named prefix+channel.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisBus(rdb *redis.Client, prefix string, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With(slog.String("component", "redis_bus")),
	}
}

// DialRedis connects to addr and checks the server answers before returning.
func DialRedis(ctx context.Context, addr, prefix string, logger *slog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return NewRedisBus(rdb, prefix, logger), nil
}

var _ Bus = (*RedisBus)(nil)

func (b *RedisBus) Publish(ctx context.Context, channel string, msg []byte) error {
	if err := b.rdb.Publish(ctx, b.prefix+channel, msg).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	pubsub := b.rdb.Subscribe(ctx, b.prefix+channel)
	// wait for the subscription to be confirmed so no message published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	msgs := pubsub.Channel()
	go func() {
		for msg := range msgs {
			h([]byte(msg.Payload))
		}
		b.logger.Debug("Subscription ended", slog.String("channel", channel))
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Warn("Failed to close subscription", slog.String("channel", channel), slog.Any("error", err))
		}
	}, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
