// Package events provides the in-process lifecycle event bus. Scheduling,
// publication, and batch services publish named events; notification and
// monitoring components subscribe. Dispatch is synchronous and fire-and-forget:
// subscriber panics are recovered and logged so a side-effect consumer can
// never block or fail the state transition that produced the event.
package events

import (
	"context"
	"sync"
	"time"

	"slowpress/internal/types"
)

// Bus is the production EventBus implementation. Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[types.EventType][]func(ctx context.Context, event types.Event)
	catchAll    []func(ctx context.Context, event types.Event)
	logger      types.Logger
}

// Compile-time assertion that Bus implements types.EventBus.
var _ types.EventBus = (*Bus)(nil)

// NewBus creates an empty event bus.
func NewBus(logger types.Logger) *Bus {
	return &Bus{
		subscribers: make(map[types.EventType][]func(ctx context.Context, event types.Event)),
		logger:      logger,
	}
}

// Subscribe registers fn for events of type t. Registration order is
// preserved at dispatch time.
func (b *Bus) Subscribe(t types.EventType, fn func(ctx context.Context, event types.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], fn)
}

// SubscribeAll registers fn for every event regardless of type.
func (b *Bus) SubscribeAll(fn func(ctx context.Context, event types.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catchAll = append(b.catchAll, fn)
}

// Publish delivers the event to all matching subscribers in registration
// order. Panicking subscribers are recovered and logged; remaining
// subscribers still run.
func (b *Bus) Publish(ctx context.Context, event types.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	typed := make([]func(ctx context.Context, event types.Event), len(b.subscribers[event.Type]))
	copy(typed, b.subscribers[event.Type])
	all := make([]func(ctx context.Context, event types.Event), len(b.catchAll))
	copy(all, b.catchAll)
	b.mu.RUnlock()

	for _, fn := range typed {
		b.dispatch(ctx, fn, event)
	}
	for _, fn := range all {
		b.dispatch(ctx, fn, event)
	}
}

func (b *Bus) dispatch(ctx context.Context, fn func(ctx context.Context, event types.Event), event types.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"event_type", string(event.Type),
				"panic", r,
			)
		}
	}()
	fn(ctx, event)
}
