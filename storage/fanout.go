package storage

import (
	"log/slog"
	"sync"
)

// subscriberBuffer bounds each subscriber's pending events. When it is full
// new events are dropped: the queue already holds a later notification, and
// subscribers treat any notification as "something changed, reload".
const subscriberBuffer = 64

// fanout delivers events to in-process subscribers, each on its own goroutine
// so a slow subscriber never stalls the writer.
type fanout struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
}

func newFanout() *fanout {
	return &fanout{subs: make(map[uint64]*subscriber)}
}

type subscriber struct {
	f      *fanout
	id     uint64
	table  string
	filter Filter
	fn     func(Event)
	queue  chan Event
	done   chan struct{}
	once   sync.Once
}

func (f *fanout) add(table string, filter Filter, fn func(Event)) *subscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s := &subscriber{
		f:      f,
		id:     f.nextID,
		table:  table,
		filter: filter,
		fn:     fn,
		queue:  make(chan Event, subscriberBuffer),
		done:   make(chan struct{}),
	}
	f.subs[s.id] = s
	go s.run()
	return s
}

func (f *fanout) dispatch(ev Event) {
	f.mu.Lock()
	targets := make([]*subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		if s.table == ev.Table && s.filter.Matches(ev.Record) {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	for _, s := range targets {
		select {
		case <-s.done:
		case s.queue <- ev:
		default:
			slog.Debug("subscriber queue full, dropping event", "tag", "storage", "table", ev.Table, "op", ev.Op)
		}
	}
}

// closeAll stops every subscriber.
func (f *fanout) closeAll() {
	f.mu.Lock()
	subs := make([]*subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(ev)
		}
	}
}

// Close implements Subscription.
func (s *subscriber) Close() {
	s.once.Do(func() {
		s.f.mu.Lock()
		delete(s.f.subs, s.id)
		s.f.mu.Unlock()
		close(s.done)
	})
}
