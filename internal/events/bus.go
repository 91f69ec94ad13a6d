// Package events broadcasts protect client lifecycle events to in-process
// subscribers.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates an event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish delivers ev to every subscriber of its type. Delivery is
// asynchronous; Publish does not wait for handlers.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case SessionConnected:
		event.Publish(b.dispatcher, e)
	case SessionDisconnected:
		event.Publish(b.dispatcher, e)
	case ResyncStarted:
		event.Publish(b.dispatcher, e)
	case ResyncFailed:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type named by its parameter and
// returns the unsubscribe function. Unknown handler types get a no-op.
//
// Usage: unsub := bus.Subscribe(func(e SessionConnected) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SessionConnected):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionDisconnected):
		return event.Subscribe(b.dispatcher, h)
	case func(ResyncStarted):
		return event.Subscribe(b.dispatcher, h)
	case func(ResyncFailed):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
