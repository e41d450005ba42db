package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier fans change events out through Redis pub/sub. It lets several
// server instances share one Postgres database without holding a LISTEN
// connection each.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier connects to the Redis at url (redis://...) and pings it.
func NewRedisNotifier(ctx context.Context, url, channel string) (*RedisNotifier, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	if channel == "" {
		channel = DefaultChannel
	}
	slog.Info("connected to Redis", "tag", "storage", "addr", opt.Addr)
	return &RedisNotifier{client: client, channel: channel}, nil
}

// Publish implements Notifier.
func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Listen implements Notifier.
func (n *RedisNotifier) Listen(ctx context.Context, deliver func(Event)) error {
	ps := n.client.Subscribe(ctx, n.channel)
	defer ps.Close()

	// Wait for the subscription to be confirmed before reading messages.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				slog.Warn("dropping undecodable notification", "tag", "storage", "err", err)
				continue
			}
			deliver(ev)
		}
	}
}

// Close implements Notifier.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
