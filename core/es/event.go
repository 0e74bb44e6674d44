package es

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/modelmycode/cqrs-framework/core/reflector"
)

// NoToken is the tracking token positioned before the first event of a channel.
const NoToken int64 = -1

// EventRecord is a single domain event as emitted by an aggregate.
type EventRecord struct {
	Name      string
	Payload   any
	Timestamp time.Time
	Metadata  map[string]any
}

// EventMessage is an EventRecord bound to its aggregate stream position.
type EventMessage struct {
	AggregateType  string
	AggregateID    string
	SequenceNumber int64
	Event          EventRecord
}

// TrackedEvent is an EventMessage as delivered by an EventChannel. Token is
// the message's position in the channel's global order.
type TrackedEvent struct {
	ID      string
	Token   int64
	Message EventMessage
}

// EventNameOf returns the wire name of an event payload. Payloads may override
// the default type name by implementing EventType() string.
func EventNameOf(event any) string {
	if n, ok := event.(interface{ EventType() string }); ok {
		return n.EventType()
	}
	return reflector.TypeInfoOf(event).ShortName
}

// EventNameFor returns the wire name of event type E.
func EventNameFor[E any]() string {
	var zero E
	if n, ok := any(zero).(interface{ EventType() string }); ok {
		return n.EventType()
	}
	if n, ok := any(&zero).(interface{ EventType() string }); ok {
		return n.EventType()
	}
	return reflector.TypeInfoFor[E]().ShortName
}

// Decode converts a payload as found on an EventRecord into *E. Payloads held
// in memory are returned as is; persisted payloads arrive as raw JSON.
func Decode[E any](payload any) (*E, error) {
	switch p := payload.(type) {
	case *E:
		return p, nil
	case E:
		return &p, nil
	case json.RawMessage:
		return decodeJSON[E](p)
	case []byte:
		return decodeJSON[E](p)
	case nil:
		return nil, fmt.Errorf("decode %s: empty payload", EventNameFor[E]())
	}
	return nil, fmt.Errorf("decode %s: unexpected payload type %T", EventNameFor[E](), payload)
}

func decodeJSON[E any](data []byte) (*E, error) {
	out := new(E)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", EventNameFor[E](), err)
	}
	return out, nil
}

// EventRegistry maps event names to constructors so persisted payloads can be
// decoded into concrete types before they are applied to an aggregate.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{news: map[string]func() any{}}
}

func (r *EventRegistry) Register(eventName string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventName] = ctor
}

// Decode returns payload decoded into the type registered for eventName.
// Payloads that are not raw JSON are passed through unchanged.
func (r *EventRegistry) Decode(eventName string, payload any) (any, error) {
	var data []byte
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		return payload, nil
	}

	r.mu.RLock()
	ctor, ok := r.news[eventName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventName)
	}
	ev := ctor()
	if len(data) > 0 {
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventName, err)
		}
	}
	return ev, nil
}

// Registrar receives the event types an aggregate can replay.
type Registrar interface {
	Register(eventName string, ctor func() any)
}

// RegisterEvent registers E under its wire name. Decoded payloads are *E.
func RegisterEvent[E any](r Registrar) {
	r.Register(EventNameFor[E](), func() any { return new(E) })
}
