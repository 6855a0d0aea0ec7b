// Package events provides best-effort broadcast of entity lifecycle events
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/pkg/types"
)

// Bus broadcasts lifecycle events. Publication is best-effort: a
// failing subscriber must never affect the data write that produced
// the event. A nil Bus is valid everywhere one is accepted.
type Bus interface {
	Publish(ctx context.Context, event types.Event)
}

// Handler receives a published event.
type Handler func(event types.Event)

// Broadcaster is an in-process Bus fanning events out to subscribers.
type Broadcaster struct {
	mu       sync.RWMutex
	handlers map[string][]Handler // event type -> handlers; "" subscribes to all
	logger   *zap.Logger
}

// NewBroadcaster creates an in-process event bus.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event type. An empty eventType
// subscribes to all events.
func (b *Broadcaster) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish delivers the event to matching subscribers synchronously.
// Subscriber panics are recovered and logged; they never propagate.
func (b *Broadcaster) Publish(ctx context.Context, event types.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.handlers[""]))
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.handlers[""]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(event, h)
	}
}

func (b *Broadcaster) deliver(event types.Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event subscriber panicked",
				zap.String("event", event.Type),
				zap.String("entity_id", event.EntityID),
				zap.Any("panic", r),
			)
		}
	}()
	h(event)
}

// Publish is a nil-safe helper for optional buses.
func Publish(ctx context.Context, bus Bus, event types.Event) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, event)
}
