package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// InMemoryStore is an EventStore and EventChannel backed by process memory.
// Every published message is appended to a single global log whose index is
// the tracking token.
type InMemoryStore struct {
	log *slog.Logger

	mu      sync.RWMutex
	streams map[string][]EventRecord
	events  []TrackedEvent
	changed chan struct{}
}

func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	options := memoryOpts{log: slog.Default()}
	for _, opt := range opts {
		opt.applyToMemory(&options)
	}
	return &InMemoryStore{
		log:     options.log.With(slog.String("store", "memory")),
		streams: map[string][]EventRecord{},
		changed: make(chan struct{}),
	}
}

func streamKey(aggType, aggID string) string { return aggType + "/" + aggID }

func (s *InMemoryStore) Load(_ context.Context, aggType, aggID string) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.streams[streamKey(aggType, aggID)]
	out := make([]EventRecord, len(stream))
	copy(out, stream)
	return out, nil
}

func (s *InMemoryStore) Publish(_ context.Context, messages []EventMessage) error {
	if len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// validate the whole batch before appending anything
	next := map[string]int64{}
	for _, m := range messages {
		if m.AggregateType == "" || m.AggregateID == "" {
			return fmt.Errorf("publish: aggregate type and id are required")
		}
		key := streamKey(m.AggregateType, m.AggregateID)
		expected, ok := next[key]
		if !ok {
			expected = int64(len(s.streams[key]))
		}
		if m.SequenceNumber != expected {
			return fmt.Errorf(
				"%w: expected sequence %d, got %d (agg_type=%s agg_id=%s)",
				ErrConcurrencyConflict, expected, m.SequenceNumber, m.AggregateType, m.AggregateID,
			)
		}
		next[key] = expected + 1
	}

	for _, m := range messages {
		key := streamKey(m.AggregateType, m.AggregateID)
		s.streams[key] = append(s.streams[key], m.Event)
		s.events = append(s.events, TrackedEvent{
			ID:      gonanoid.Must(),
			Token:   int64(len(s.events)),
			Message: m,
		})
	}

	close(s.changed)
	s.changed = make(chan struct{})
	return nil
}

func (s *InMemoryStore) GetLastToken(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)) - 1, nil
}

// Len returns the number of events in the global log.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *InMemoryStore) ListEvents(ctx context.Context, opts ListEventsOptions) (Subscription, error) {
	if opts.OnNext == nil {
		return nil, fmt.Errorf("list events: OnNext is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	fc := NewFlowControl(opts.Permits, opts.RefillBatch)
	next := max(opts.TrackingToken+1, 0)

	s.log.Debug("list events", slog.Int64("from_token", next))

	go func() {
		for ctx.Err() == nil {
			s.mu.RLock()
			var (
				ev      TrackedEvent
				ok      = next < int64(len(s.events))
				changed = s.changed
			)
			if ok {
				ev = s.events[next]
			}
			s.mu.RUnlock()

			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-changed:
					continue
				}
			}

			if err := fc.Deliver(ctx, ev, opts.OnNext); err != nil {
				return
			}
			next++
		}
	}()

	return SubscriptionFunc(cancel), nil
}

var (
	_ EventStore   = (*InMemoryStore)(nil)
	_ EventChannel = (*InMemoryStore)(nil)
)
