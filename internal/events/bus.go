// Package events is the in-process event bus used to fan out session
// activity to metrics and the CLI.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
// A nil *Bus is valid: Publish drops events and Subscribe is a no-op.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(ColorWrittenEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case StateChangedEvent:
		event.Publish(b.dispatcher, e)
	case ColorSubmittedEvent:
		event.Publish(b.dispatcher, e)
	case ColorWrittenEvent:
		event.Publish(b.dispatcher, e)
	case WriteFailedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type in its signature and
// returns an unsubscribe function. Unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e WriteFailedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	if b == nil {
		return func() {}
	}
	switch h := handler.(type) {
	case func(StateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ColorSubmittedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ColorWrittenEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WriteFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
