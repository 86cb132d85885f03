package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher so the supervisor and tracker can
// broadcast typed events to any number of subscribers (CLI, HTTP API, tests).
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers of its concrete type.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case ProcessQueuedEvent:
		event.Publish(b.dispatcher, e)
	case ProcessStartedEvent:
		event.Publish(b.dispatcher, e)
	case ProcessOutputEvent:
		event.Publish(b.dispatcher, e)
	case ProcessErrorEvent:
		event.Publish(b.dispatcher, e)
	case ProcessProgressEvent:
		event.Publish(b.dispatcher, e)
	case ProcessFinishedEvent:
		event.Publish(b.dispatcher, e)
	case ProcessCancelledEvent:
		event.Publish(b.dispatcher, e)
	case QueueEmptyEvent:
		event.Publish(b.dispatcher, e)
	case QueueStatusEvent:
		event.Publish(b.dispatcher, e)
	case SupervisorErrorEvent:
		event.Publish(b.dispatcher, e)
	case StageAdvancedEvent:
		event.Publish(b.dispatcher, e)
	case EntityFailedEvent:
		event.Publish(b.dispatcher, e)
	case EntityCompletedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers a handler; the handler's parameter type selects which
// events it receives. Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e ProcessFinishedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(ProcessQueuedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProcessStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProcessOutputEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProcessErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProcessProgressEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProcessFinishedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProcessCancelledEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(QueueEmptyEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(QueueStatusEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SupervisorErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StageAdvancedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(EntityFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(EntityCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
