package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AndreasThinks/nodeice-board/internal/observability"
)

// DefaultQueueSize is the number of events buffered ahead of the dispatcher.
const DefaultQueueSize = 256

type envelope struct {
	ctx   context.Context
	event Event
}

// Bus fans events out to listeners on a single background goroutine.
// Publish never blocks: when the queue is full the event is dropped.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
	queue     chan envelope
	started   bool
	closed    bool
	done      chan struct{}
}

// NewBus creates a bus with the given queue size (DefaultQueueSize when <= 0).
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queue: make(chan envelope, queueSize),
		done:  make(chan struct{}),
	}
}

// Name returns a human-readable identifier for this bus.
func (b *Bus) Name() string { return "event bus" }

// Register adds a listener. Listeners are called in registration order.
func (b *Bus) Register(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish queues the event for dispatch and reports whether it was accepted.
// The listener context keeps ctx's values but not its cancellation.
func (b *Bus) Publish(ctx context.Context, event Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		observability.EventsDropped.WithLabelValues(event.Name()).Inc()
		observability.Logger.WarnContext(ctx, "Event published after bus closed",
			slog.String("event", event.Name()),
		)
		return false
	}

	select {
	case b.queue <- envelope{ctx: context.WithoutCancel(ctx), event: event}:
		return true
	default:
		observability.EventsDropped.WithLabelValues(event.Name()).Inc()
		observability.Logger.WarnContext(ctx, "Event queue full, dropping event",
			slog.String("event", event.Name()),
			slog.Int("queue_size", cap(b.queue)),
		)
		return false
	}
}

// Start launches the dispatcher goroutine. Calling it more than once is a no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true
	go b.run()
}

func (b *Bus) run() {
	defer close(b.done)
	for env := range b.queue {
		b.dispatch(env)
	}
}

func (b *Bus) dispatch(env envelope) {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	observability.BoardEventsTotal.WithLabelValues(env.event.Name()).Inc()
	for _, l := range listeners {
		b.safeHandle(env, l)
	}
}

func (b *Bus) safeHandle(env envelope, l Listener) {
	defer func() {
		if r := recover(); r != nil {
			observability.Logger.ErrorContext(env.ctx, "Event listener panicked",
				slog.String("event", env.event.Name()),
				slog.String("listener", fmt.Sprintf("%T", l)),
				slog.Any("panic", r),
			)
		}
	}()
	l.HandleEvent(env.ctx, env.event)
}

// Close stops accepting events and waits for queued events to be dispatched,
// or for ctx to expire.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	close(b.queue)
	b.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus drain: %w", ctx.Err())
	}
}
