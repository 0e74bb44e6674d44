package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

const defaultMaxAttempts = 3

type (
	// Command mutates an aggregate by raising events. It may have side
	// effects outside the aggregate.
	Command[T Aggregate] func(ctx context.Context, agg T) error
	// Guard checks preconditions against aggregate state without raising
	// events. It is evaluated again on every guarded retry.
	Guard[T Aggregate] func(ctx context.Context, agg T) error
	// Rollback compensates the side effects of a command whose events could
	// not be published because the guard failed on retry.
	Rollback func(ctx context.Context, payloads []any)
)

// AggregateSourcing loads aggregates from an EventStore, runs commands
// against them and publishes the emitted events with optimistic concurrency.
//
// Concurrency conflicts are retried up to three publish attempts in total.
// Load reruns the command on a freshly loaded aggregate for every attempt.
// LoadGuarded runs the command once and, on conflict, only re-evaluates the
// guard before republishing the captured events at the new stream version.
type AggregateSourcing[T Aggregate] struct {
	store       EventStore
	newAgg      func() T
	aggType     string
	registry    *EventRegistry
	log         *slog.Logger
	metrics     Metrics
	clock       clockwork.Clock
	maxAttempts int
}

func NewAggregateSourcing[T Aggregate](store EventStore, newAgg func() T, opts ...SourcingOption) *AggregateSourcing[T] {
	options := sourcingOpts{
		log:         slog.Default(),
		metrics:     NopMetrics(),
		clock:       clockwork.NewRealClock(),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt.applyToSourcing(&options)
	}

	sample := newAgg()
	registry := NewRegistry()
	sample.Register(registry)

	return &AggregateSourcing[T]{
		store:       store,
		newAgg:      newAgg,
		aggType:     sample.GetAggType(),
		registry:    registry,
		log:         options.log.With(slog.String("aggregate", sample.GetAggType())),
		metrics:     options.metrics,
		clock:       options.clock,
		maxAttempts: options.maxAttempts,
	}
}

func (s *AggregateSourcing[T]) AggType() string { return s.aggType }

// Create runs command against a blank aggregate and publishes the emitted
// events starting at sequence number 0. History is not read; an existing
// stream surfaces as a concurrency conflict.
func (s *AggregateSourcing[T]) Create(ctx context.Context, id string, command Command[T]) ([]any, error) {
	agg := s.blank(id)
	if err := command(ctx, agg); err != nil {
		return nil, err
	}
	events := agg.Uncommitted()
	if err := s.publish(ctx, id, 0, events); err != nil {
		return nil, err
	}
	agg.ClearUncommitted()
	return Payloads(events), nil
}

// Load replays the aggregate, runs command and publishes the emitted events.
// On conflict the aggregate is reloaded and command runs again.
func (s *AggregateSourcing[T]) Load(ctx context.Context, id string, command Command[T]) ([]any, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		agg, version, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := command(ctx, agg); err != nil {
			return nil, err
		}
		events := agg.Uncommitted()
		lastErr = s.publish(ctx, id, version, events)
		if lastErr == nil {
			agg.ClearUncommitted()
			return Payloads(events), nil
		}
		if !errors.Is(lastErr, ErrConcurrencyConflict) {
			return nil, lastErr
		}
		s.conflict(id, attempt, false)
	}
	return nil, lastErr
}

// LoadGuarded replays the aggregate, checks guard, runs command once and
// publishes the emitted events. On conflict the aggregate is reloaded and
// only guard is evaluated before the same events are republished. When the
// guard rejects a retry, rollback receives the unpublished payloads and the
// guard's error is returned with KindGuardFailure.
//
// Guard errors come back wrapped in *Error. The message is the guard's own,
// but callers must match the cause with errors.Is or errors.As rather than
// comparing with ==.
//
// Republished events keep the timestamps captured by the first attempt.
func (s *AggregateSourcing[T]) LoadGuarded(
	ctx context.Context,
	id string,
	command Command[T],
	guard Guard[T],
	rollback Rollback,
) ([]any, error) {
	if guard == nil {
		return s.Load(ctx, id, command)
	}

	agg, version, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guard(ctx, agg); err != nil {
		s.metrics.GuardRejected(s.aggType)
		return nil, newError(KindGuardFailure, "guard", err)
	}
	if err := command(ctx, agg); err != nil {
		return nil, err
	}
	events := agg.Uncommitted()
	payloads := Payloads(events)

	for attempt := 1; ; attempt++ {
		err = s.publish(ctx, id, version, events)
		if err == nil {
			return payloads, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) || attempt >= s.maxAttempts {
			return nil, err
		}
		s.conflict(id, attempt, true)

		agg, version, err = s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if guardErr := guard(ctx, agg); guardErr != nil {
			s.metrics.GuardRejected(s.aggType)
			s.log.Info(
				"guard rejected retry, rolling back",
				slog.String("id", id),
				slog.Int("attempt", attempt+1),
				slog.Any("error", guardErr),
			)
			if rollback != nil {
				rollback(ctx, payloads)
			}
			return nil, newError(KindGuardFailure, "guard", guardErr)
		}
	}
}

func (s *AggregateSourcing[T]) blank(id string) T {
	agg := s.newAgg()
	agg.SetID(id)
	agg.setClock(s.clock.Now)
	return agg
}

// load replays the stream of id. An empty stream is KindAggregateNotFound.
func (s *AggregateSourcing[T]) load(ctx context.Context, id string) (agg T, version int64, err error) {
	timer := s.metrics.LoadDuration(s.aggType)
	history, err := s.store.Load(ctx, s.aggType, id)
	timer.ObserveDuration()
	if err != nil {
		return agg, 0, s.persistenceError("load", err)
	}
	if len(history) == 0 {
		return agg, 0, newError(KindAggregateNotFound, "load", fmt.Errorf("%s %s", s.aggType, id))
	}

	agg = s.blank(id)
	for _, record := range history {
		payload, err := s.registry.Decode(record.Name, record.Payload)
		if err != nil {
			return agg, 0, newError(KindPersistenceFailure, "replay", err)
		}
		if err := agg.Apply(payload); err != nil {
			return agg, 0, fmt.Errorf("replay %s %s: %w", s.aggType, id, err)
		}
	}
	return agg, int64(len(history)), nil
}

func (s *AggregateSourcing[T]) publish(ctx context.Context, id string, version int64, events []EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]EventMessage, len(events))
	for i, e := range events {
		messages[i] = EventMessage{
			AggregateType:  s.aggType,
			AggregateID:    id,
			SequenceNumber: version + int64(i),
			Event:          e,
		}
	}

	timer := s.metrics.PublishDuration(s.aggType)
	err := s.store.Publish(ctx, messages)
	timer.ObserveDuration()
	if err != nil {
		return s.persistenceError("publish", err)
	}
	s.metrics.EventsPublished(s.aggType, len(messages))
	s.log.Debug(
		"published",
		slog.String("id", id),
		slog.Int64("version", version),
		slog.Int("count", len(messages)),
	)
	return nil
}

func (s *AggregateSourcing[T]) conflict(id string, attempt int, guarded bool) {
	s.metrics.ConcurrencyConflict(s.aggType)
	if attempt < s.maxAttempts {
		s.metrics.CommandRetried(s.aggType, guarded)
	}
	s.log.Debug(
		"concurrency conflict",
		slog.String("id", id),
		slog.Int("attempt", attempt),
		slog.Bool("guarded", guarded),
	)
}

// persistenceError classifies store errors that carry no kind of their own.
func (s *AggregateSourcing[T]) persistenceError(op string, err error) error {
	if KindOf(err) != KindUnknown || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return newError(KindPersistenceFailure, op, err)
}
