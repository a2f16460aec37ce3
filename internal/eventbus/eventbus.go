// Package eventbus fans pipeline events out to in-process subscribers.
package eventbus

// Event is any value published on the untyped bus.
type Event = any

// EventBus is the untyped publish/subscribe contract used by producers that
// emit several event kinds.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Bus is the default EventBus implementation.
type Bus = TypedBus[Event]

var _ EventBus = (*Bus)(nil)

// New creates a Bus with the default subscriber buffer.
func New() *Bus { return NewTyped[Event]() }

// NewBuffered creates a Bus whose subscribers buffer up to n events.
func NewBuffered(n int) *Bus { return NewTypedBuffered[Event](n) }
