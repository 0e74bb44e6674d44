package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelmycode/cqrs-framework/core/es"
	"github.com/modelmycode/cqrs-framework/core/reflector"
)

var ErrDuplicateHandler = errors.New("duplicate event handler")

// EventMeta describes the delivered event alongside its decoded payload.
type EventMeta struct {
	ID             string
	Token          int64
	Name           string
	AggregateType  string
	AggregateID    string
	SequenceNumber int64
	Timestamp      time.Time
	Metadata       map[string]any
}

func metaOf(ev es.TrackedEvent) EventMeta {
	return EventMeta{
		ID:             ev.ID,
		Token:          ev.Token,
		Name:           ev.Message.Event.Name,
		AggregateType:  ev.Message.AggregateType,
		AggregateID:    ev.Message.AggregateID,
		SequenceNumber: ev.Message.SequenceNumber,
		Timestamp:      ev.Message.Event.Timestamp,
		Metadata:       ev.Message.Event.Metadata,
	}
}

// Handler is an event handler component. Subscribe declares which events the
// component handles and with which methods.
type Handler interface {
	Subscribe(s *Subscriptions)
}

// HandlerFunc handles one event. payload is as delivered by the channel.
type HandlerFunc func(ctx context.Context, payload any, meta EventMeta) error

type subscription struct {
	component string
	method    string
	event     string
	fn        HandlerFunc
}

func (s subscription) String() string { return s.component + "." + s.method }

// Subscriptions collects the registrations of one handler component.
type Subscriptions struct {
	component string
	entries   []subscription
	err       error
}

// Component overrides the name used in logs and duplicate detection, which
// defaults to the handler's type name. It applies to every registration of
// the handler, including those added before the call.
func (s *Subscriptions) Component(name string) {
	s.component = name
	for i := range s.entries {
		s.entries[i].component = name
	}
}

// Add registers fn as method of the component for events named eventName.
func (s *Subscriptions) Add(eventName, method string, fn HandlerFunc) {
	for _, e := range s.entries {
		if e.event == eventName && e.method == method {
			s.err = errors.Join(s.err, fmt.Errorf("%w: %s.%s(%s)", ErrDuplicateHandler, s.component, method, eventName))
			return
		}
	}
	s.entries = append(s.entries, subscription{component: s.component, method: method, event: eventName, fn: fn})
}

// On registers fn for events of type E. The payload is decoded into *E
// before fn is called.
func On[E any](s *Subscriptions, method string, fn func(ctx context.Context, event *E, meta EventMeta) error) {
	s.Add(es.EventNameFor[E](), method, func(ctx context.Context, payload any, meta EventMeta) error {
		e, err := es.Decode[E](payload)
		if err != nil {
			return err
		}
		return fn(ctx, e, meta)
	})
}

// handlerRegistry maps event names to the subscriptions interested in them,
// in registration order.
type handlerRegistry struct {
	byEvent map[string][]subscription
	events  []string
}

func newHandlerRegistry(handlers []Handler) (*handlerRegistry, error) {
	r := &handlerRegistry{byEvent: map[string][]subscription{}}
	seen := map[string]bool{}
	var errs error

	for _, h := range handlers {
		if h == nil {
			continue
		}
		s := &Subscriptions{component: reflector.TypeInfoOf(h).ShortName}
		h.Subscribe(s)
		if s.err != nil {
			errs = errors.Join(errs, s.err)
		}
		for _, sub := range s.entries {
			key := sub.component + "." + sub.method + "(" + sub.event + ")"
			if seen[key] {
				errs = errors.Join(errs, fmt.Errorf("%w: %s", ErrDuplicateHandler, key))
				continue
			}
			seen[key] = true
			if _, ok := r.byEvent[sub.event]; !ok {
				r.events = append(r.events, sub.event)
			}
			r.byEvent[sub.event] = append(r.byEvent[sub.event], sub)
		}
	}
	if errs != nil {
		return nil, errs
	}
	return r, nil
}

func (r *handlerRegistry) handlersFor(eventName string) []subscription {
	return r.byEvent[eventName]
}

// Events returns the handled event names in registration order.
func (r *handlerRegistry) Events() []string {
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}
