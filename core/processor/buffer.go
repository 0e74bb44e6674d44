package processor

import (
	"sync"

	"github.com/modelmycode/cqrs-framework/core/es"
)

type bufferedEvent struct {
	event es.TrackedEvent
	ack   func()
}

// EventBuffer is an unbounded FIFO between an event channel subscription and
// the processing loop. Each added event carries an acknowledgement that the
// producer can wait on.
type EventBuffer struct {
	mu     sync.Mutex
	items  []bufferedEvent
	notify chan struct{}
}

func NewEventBuffer() *EventBuffer {
	return &EventBuffer{notify: make(chan struct{}, 1)}
}

// Add enqueues event. The returned channel is closed once the consumer calls
// the ack function obtained from Peek or Dequeue.
func (b *EventBuffer) Add(event es.TrackedEvent) <-chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	item := bufferedEvent{
		event: event,
		ack:   func() { once.Do(func() { close(done) }) },
	}

	b.mu.Lock()
	b.items = append(b.items, item)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return done
}

// Peek returns the oldest event without removing it.
func (b *EventBuffer) Peek() (es.TrackedEvent, func(), bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return es.TrackedEvent{}, nil, false
	}
	return b.items[0].event, b.items[0].ack, true
}

// Dequeue removes and returns the oldest event.
func (b *EventBuffer) Dequeue() (es.TrackedEvent, func(), bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return es.TrackedEvent{}, nil, false
	}
	item := b.items[0]
	b.items[0] = bufferedEvent{}
	b.items = b.items[1:]
	return item.event, item.ack, true
}

func (b *EventBuffer) IsEmpty() bool { return b.Len() == 0 }

func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Notify is signalled after Add. Signals coalesce.
func (b *EventBuffer) Notify() <-chan struct{} { return b.notify }
