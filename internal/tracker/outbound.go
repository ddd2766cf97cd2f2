package tracker

import (
	"context"
	"sync"
	"time"

	"harbor-presence/internal/models"

	"go.uber.org/zap"
)

// Listener receives pipeline notifications. Calls come from a single
// dispatcher goroutine, in emission order. Returned errors are logged and counted.
type Listener interface {
	OnDirectionEvent(ctx context.Context, ev models.DirectionEvent) error
	OnPresenceChanged(ctx context.Context, change models.PresenceChange) error
}

// Notification is one queued outbound item; exactly one field is set.
type Notification struct {
	Direction *models.DirectionEvent
	Presence  *models.PresenceChange
}

// outboundQueue is a bounded FIFO that drops its oldest item when full, so
// producers never block.
type outboundQueue struct {
	mu      sync.Mutex
	items   []Notification
	head    int
	size    int
	closed  bool
	wake    chan struct{}
	metrics *Metrics
}

func newOutboundQueue(capacity int, metrics *Metrics) *outboundQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &outboundQueue{
		items:   make([]Notification, capacity),
		wake:    make(chan struct{}, 1),
		metrics: metrics,
	}
}

// push enqueues n. It returns false if n displaced the oldest item.
func (q *outboundQueue) push(n Notification) bool {
	q.mu.Lock()
	kept := true
	if q.size == len(q.items) {
		q.items[q.head] = Notification{}
		q.head = (q.head + 1) % len(q.items)
		q.size--
		kept = false
	}
	q.items[(q.head+q.size)%len(q.items)] = n
	q.size++
	q.mu.Unlock()

	if !kept {
		q.metrics.incDropped()
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return kept
}

// drain removes and returns everything queued.
func (q *outboundQueue) drain() ([]Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Notification, 0, q.size)
	for q.size > 0 {
		out = append(out, q.items[q.head])
		q.items[q.head] = Notification{}
		q.head = (q.head + 1) % len(q.items)
		q.size--
	}
	return out, q.closed
}

func (q *outboundQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// dispatcher delivers queued notifications to listeners until the queue is
// closed and empty.
type dispatcher struct {
	queue       *outboundQueue
	listeners   []Listener
	callTimeout time.Duration
	metrics     *Metrics
	logger      *zap.Logger
}

func (d *dispatcher) run(done chan<- struct{}) {
	defer close(done)
	for range d.queue.wake {
		batch, closed := d.queue.drain()
		for _, n := range batch {
			d.deliver(n)
		}
		if closed {
			// items pushed after close are still delivered
			for {
				rest, _ := d.queue.drain()
				if len(rest) == 0 {
					return
				}
				for _, n := range rest {
					d.deliver(n)
				}
			}
		}
	}
}

func (d *dispatcher) deliver(n Notification) {
	for _, l := range d.listeners {
		ctx, cancel := context.WithTimeout(context.Background(), d.callTimeout)
		var err error
		switch {
		case n.Direction != nil:
			err = l.OnDirectionEvent(ctx, *n.Direction)
		case n.Presence != nil:
			err = l.OnPresenceChanged(ctx, *n.Presence)
		}
		cancel()
		if err != nil {
			d.metrics.incListenerFailure()
			d.logger.Warn("Listener failed",
				zap.String("listener", listenerName(l)),
				zap.Error(err),
			)
		}
	}
}

type named interface{ Name() string }

func listenerName(l Listener) string {
	if n, ok := l.(named); ok {
		return n.Name()
	}
	return "listener"
}
