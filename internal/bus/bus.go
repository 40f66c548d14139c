package bus

import (
	"log/slog"
	"sync"
	"time"

	"infobot/internal/domain"
)

const (
	publishTimeout = 10 * time.Second
	publishPoll    = 10 * time.Millisecond
)

// EventBus is the Go-channel conduit between the per-contact monitor units
// (producers) and the orchestrator (single consumer). Events from one unit
// arrive in detection order; no ordering holds across units.
type EventBus struct {
	events chan domain.ActivityEvent
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// New creates an EventBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		events: make(chan domain.ActivityEvent, bufferSize),
		logger: logger,
	}
}

// Publish enqueues an activity event. Waits up to 10 seconds if the bus is
// full instead of dropping.
func (b *EventBus) Publish(ev domain.ActivityEvent) {
	if b.tryPublish(ev) {
		return
	}

	// Slow path. The lock is only held for non-blocking attempts so a stuck
	// publisher never holds up Close.
	b.logger.Warn("event bus full, waiting...", "contact", ev.Contact)

	deadline := time.NewTimer(publishTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(publishPoll)
	defer poll.Stop()

	for {
		select {
		case <-deadline.C:
			b.logger.Error("activity event dropped: bus full for 10s", "contact", ev.Contact)
			return
		case <-poll.C:
			if b.tryPublish(ev) {
				return
			}
		}
	}
}

// tryPublish attempts a non-blocking enqueue. Publishing to a closed bus is
// treated as delivered; the event is logged and dropped.
func (b *EventBus) tryPublish(ev domain.ActivityEvent) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "contact", ev.Contact)
		return true
	}
	select {
	case b.events <- ev:
		return true
	default:
		return false
	}
}

// Subscribe returns the receive side of the event channel. The orchestrator
// is the only consumer.
func (b *EventBus) Subscribe() <-chan domain.ActivityEvent {
	return b.events
}

func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.events)
	}
}
