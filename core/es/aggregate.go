package es

import (
	"fmt"
	"time"
)

// Aggregate is an event-sourced domain object. Implementations embed
// BaseAggregate and provide GetAggType, Register and Apply.
//
// Apply is the aggregate's event-sourcing handler: it mutates state from a
// single event and is invoked both when replaying history and when a command
// raises a new event through RaiseAndApply. Events the aggregate does not
// care about can be ignored by returning nil.
type Aggregate interface {
	// GetAggType returns the aggregate type name used to address streams.
	GetAggType() string
	GetID() string
	SetID(string)

	// Register declares the event types the aggregate replays from storage.
	Register(r Registrar)
	Apply(event any) error

	// Raise records an event as emitted but not yet published.
	Raise(event any)
	// Uncommitted returns the emitted events in the order they were raised.
	Uncommitted() []EventRecord
	ClearUncommitted()

	setClock(now func() time.Time)
}

// BaseAggregate tracks identity and the events emitted since the aggregate
// was loaded.
type BaseAggregate struct {
	id          string
	now         func() time.Time
	uncommitted []EventRecord
}

func (b *BaseAggregate) GetID() string   { return b.id }
func (b *BaseAggregate) SetID(id string) { b.id = id }

// Apply is a no-op; aggregates override it with their own state transitions.
func (b *BaseAggregate) Apply(any) error { return nil }

func (b *BaseAggregate) Raise(event any) {
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	b.uncommitted = append(b.uncommitted, EventRecord{
		Name:      EventNameOf(event),
		Payload:   event,
		Timestamp: now(),
	})
}

func (b *BaseAggregate) Uncommitted() []EventRecord {
	out := make([]EventRecord, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

func (b *BaseAggregate) ClearUncommitted()             { b.uncommitted = nil }
func (b *BaseAggregate) setClock(now func() time.Time) { b.now = now }

type raiseApplier interface {
	Raise(event any)
	Apply(event any) error
}

// RaiseAndApply validates events, records each as emitted and applies it to
// the aggregate state. Events implementing Validate() error are checked before
// anything is recorded.
func RaiseAndApply(a raiseApplier, events ...any) error {
	for _, e := range events {
		if v, ok := e.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", e, err)
			}
		}
	}
	for _, e := range events {
		a.Raise(e)
		if err := a.Apply(e); err != nil {
			return fmt.Errorf("apply %T: %w", e, err)
		}
	}
	return nil
}

// Payloads returns the payloads of records in order.
func Payloads(records []EventRecord) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r.Payload
	}
	return out
}
