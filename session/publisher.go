package session

import (
	"context"
	"sync"
)

// job is one queued Store write.
type job func(ctx context.Context) error

// publisher runs a controller's own writes one at a time in the order they
// were queued. Its queue is unbounded so queueing never blocks the loop.
type publisher struct {
	mu     sync.Mutex
	queue  []job
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPublisher() *publisher {
	return &publisher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (p *publisher) push(j job) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, j)
	p.mu.Unlock()
	p.signal()
}

func (p *publisher) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// close stops accepting jobs. Jobs already queued still run.
func (p *publisher) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
}

func (p *publisher) next() (job, bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			j := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return j, true
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil, false
		}
		<-p.wake
	}
}

// run executes jobs until the publisher is closed and drained, passing each
// result to report.
func (p *publisher) run(ctx context.Context, report func(error)) {
	defer close(p.done)
	for {
		j, ok := p.next()
		if !ok {
			return
		}
		report(j(ctx))
	}
}
