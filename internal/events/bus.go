package events

import (
	"sync/atomic"

	"github.com/kelindar/event"
)

// SessionEvent is an event that belongs to one encoder session.
type SessionEvent interface {
	Event
	Session() string
}

// Bus fans gpuenc events out to in-process subscribers. Delivery is
// asynchronous and per subscriber ordered, as provided by kelindar/event.
type Bus struct {
	dispatcher *event.Dispatcher
	published  atomic.Uint64
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish delivers ev to the subscribers of its concrete type and reports
// whether the type is one the bus knows about. Unknown types are dropped.
func (b *Bus) Publish(ev Event) bool {
	switch e := ev.(type) {
	case SessionStateChangedEvent:
		publish(b, e)
	case FrameDroppedEvent:
		publish(b, e)
	case EncoderStatsEvent:
		publish(b, e)
	case CaptureStartedEvent:
		publish(b, e)
	case CaptureStoppedEvent:
		publish(b, e)
	case CaptureErrorEvent:
		publish(b, e)
	case LogEntryEvent:
		publish(b, e)
	default:
		return false
	}
	return true
}

// Published returns how many events have been accepted since New.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Subscribe registers handler for the event type in its signature, for
// example func(EncoderStatsEvent). The returned func unsubscribes; for an
// unsupported signature it is a no-op and nothing is registered.
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SessionStateChangedEvent):
		return On(b, h)
	case func(FrameDroppedEvent):
		return On(b, h)
	case func(EncoderStatsEvent):
		return On(b, h)
	case func(CaptureStartedEvent):
		return On(b, h)
	case func(CaptureStoppedEvent):
		return On(b, h)
	case func(CaptureErrorEvent):
		return On(b, h)
	case func(LogEntryEvent):
		return On(b, h)
	default:
		return func() {}
	}
}

// On is the typed form of Subscribe.
func On[T Event](b *Bus, fn func(T)) func() {
	return event.Subscribe(b.dispatcher, fn)
}

// OnSession subscribes fn to events of type T for a single session.
func OnSession[T SessionEvent](b *Bus, sessionID string, fn func(T)) func() {
	return event.Subscribe(b.dispatcher, func(e T) {
		if e.Session() == sessionID {
			fn(e)
		}
	})
}

func publish[T Event](b *Bus, e T) {
	b.published.Add(1)
	event.Publish(b.dispatcher, e)
}
