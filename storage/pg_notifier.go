package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxNotifyPayload stays under Postgres' 8000-byte NOTIFY payload limit.
const maxNotifyPayload = 7900

// PGNotifier uses Postgres LISTEN/NOTIFY on the store's own database.
type PGNotifier struct {
	pool    *pgxpool.Pool
	channel string
}

// NewPGNotifier returns a notifier on channel (DefaultChannel when empty).
func NewPGNotifier(pool *pgxpool.Pool, channel string) *PGNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &PGNotifier{pool: pool, channel: channel}
}

// Publish implements Notifier.
func (n *PGNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("notify payload for %s is %d bytes", ev.Table, len(payload))
	}
	_, err = n.pool.Exec(ctx, "SELECT pg_notify($1, $2)", n.channel, string(payload))
	return err
}

// Listen implements Notifier. It takes a connection out of the pool for good
// so the LISTEN registration never leaks back into it.
func (n *PGNotifier) Listen(ctx context.Context, deliver func(Event)) error {
	pooled, err := n.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{n.channel}.Sanitize()); err != nil {
		return err
	}
	slog.Info("listening for changes", "tag", "storage", "channel", n.channel)

	for {
		note, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		ev, err := decodeEvent([]byte(note.Payload))
		if err != nil {
			slog.Warn("dropping undecodable notification", "tag", "storage", "err", err)
			continue
		}
		deliver(ev)
	}
}

// Close implements Notifier. The pool belongs to the store.
func (n *PGNotifier) Close() error { return nil }
