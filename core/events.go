package core

import (
	"encoding/json"
	"sync"
)

// Event names the local notification channels the agent publishes on.
// The set is enumerable and typed; handlers subscribe by name.
type Event string

const (
	// EventVote fires when an inbound vote callback (or a forwarded vote
	// from a sibling worker) has been accepted and parsed.
	EventVote Event = "vote"
)

// Handler receives the payload of a published event.
type Handler func(payload json.RawMessage)

// Bus is a minimal in-process publish/subscribe hub. Handlers run
// synchronously in publish order; a panicking handler is isolated so it
// cannot take down the listener loop.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
	logger   Logger
}

// NewBus creates an event bus
func NewBus(logger Logger) *Bus {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Bus{
		handlers: make(map[Event][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for the named event
func (b *Bus) Subscribe(event Event, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], h)
}

// Publish delivers the payload to every handler registered for the event
func (b *Bus) Publish(event Event, payload json.RawMessage) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event]))
	copy(handlers, b.handlers[event])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(event, h, payload)
	}
}

func (b *Bus) dispatch(event Event, h Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked", map[string]interface{}{
				"event": string(event),
				"panic": r,
			})
		}
	}()
	h(payload)
}
