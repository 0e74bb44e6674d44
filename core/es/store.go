package es

import "context"

// EventStore persists aggregate streams with optimistic concurrency.
type EventStore interface {
	// Load returns the stream of an aggregate in sequence order. A missing
	// stream is an empty slice, not an error.
	Load(ctx context.Context, aggType, aggID string) ([]EventRecord, error)
	// Publish appends messages to their aggregate streams. A message whose
	// SequenceNumber does not equal the current stream length fails the call
	// with an error matching ErrConcurrencyConflict.
	Publish(ctx context.Context, messages []EventMessage) error
}

// EventChannel is the ordered global event log consumed by processors.
type EventChannel interface {
	// GetLastToken returns the token of the newest event, or NoToken.
	GetLastToken(ctx context.Context) (int64, error)
	// ListEvents delivers every event with a token greater than
	// opts.TrackingToken, in token order, until the subscription is cancelled.
	ListEvents(ctx context.Context, opts ListEventsOptions) (Subscription, error)
}

// ListEventsOptions configures an EventChannel subscription.
type ListEventsOptions struct {
	TrackingToken int64
	// OnNext receives each event. The returned channel is closed once the
	// consumer has acknowledged the event; unacknowledged events hold a
	// flow control permit.
	OnNext  func(TrackedEvent) <-chan struct{}
	OnError func(error)
	// Permits and RefillBatch configure flow control. Zero values use
	// DefaultPermits and DefaultRefillBatch.
	Permits     int
	RefillBatch int
}

// Subscription is a live ListEvents delivery.
type Subscription interface {
	Cancel()
}

// SubscriptionFunc adapts a cancel function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Cancel() { f() }
