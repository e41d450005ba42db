package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Notifier carries change events between every process sharing a Postgres
// database, so a write by one client reaches subscribers in all of them.
type Notifier interface {
	// Publish announces ev to every listener, including local ones.
	Publish(ctx context.Context, ev Event) error
	// Listen calls deliver for each event until ctx is done. It returns nil
	// on cancellation and an error if the underlying channel breaks.
	Listen(ctx context.Context, deliver func(Event)) error
	Close() error
}

// DefaultChannel is the channel/topic name notifiers publish on.
const DefaultChannel = "impostor_room_changes"

func encodeEvent(ev Event) ([]byte, error) {
	ev.Record = withoutBlobs(ev.Record)
	return json.Marshal(ev)
}

func decodeEvent(payload []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(payload, &ev)
	return ev, err
}

// LocalNotifier only reaches listeners in the same process.
type LocalNotifier struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(Event)
}

// NewLocalNotifier returns an in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{listeners: make(map[int]func(Event))}
}

// Publish implements Notifier.
func (n *LocalNotifier) Publish(_ context.Context, ev Event) error {
	n.mu.Lock()
	targets := make([]func(Event), 0, len(n.listeners))
	for _, fn := range n.listeners {
		targets = append(targets, fn)
	}
	n.mu.Unlock()
	ev.Record = withoutBlobs(ev.Record)
	for _, fn := range targets {
		fn(ev)
	}
	return nil
}

// Listen implements Notifier.
func (n *LocalNotifier) Listen(ctx context.Context, deliver func(Event)) error {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners[id] = deliver
	n.mu.Unlock()

	<-ctx.Done()

	n.mu.Lock()
	delete(n.listeners, id)
	n.mu.Unlock()
	return nil
}

// Close implements Notifier.
func (n *LocalNotifier) Close() error { return nil }
