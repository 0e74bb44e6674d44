package es

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the event sourcing engine and the
// tracking processor. The set is closed; switch on it exhaustively.
type Kind int

const (
	KindUnknown Kind = iota
	KindConcurrencyConflict
	KindAggregateNotFound
	KindHandlerFailure
	KindPersistenceFailure
	KindGuardFailure
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrAggregateNotFound   = errors.New("aggregate not found")
	ErrHandlerFailure      = errors.New("handler failure")
	ErrPersistenceFailure  = errors.New("persistence failure")
	ErrGuardFailure        = errors.New("guard failure")
	ErrUnknownEventType    = errors.New("unknown event type")
)

func (k Kind) String() string {
	switch k {
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindAggregateNotFound:
		return "aggregate_not_found"
	case KindHandlerFailure:
		return "handler_failure"
	case KindPersistenceFailure:
		return "persistence_failure"
	case KindGuardFailure:
		return "guard_failure"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConcurrencyConflict:
		return ErrConcurrencyConflict
	case KindAggregateNotFound:
		return ErrAggregateNotFound
	case KindHandlerFailure:
		return ErrHandlerFailure
	case KindPersistenceFailure:
		return ErrPersistenceFailure
	case KindGuardFailure:
		return ErrGuardFailure
	default:
		return nil
	}
}

// Error is a classified failure. errors.Is matches both the wrapped cause and
// the sentinel of its Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	// guard failures surface the guard's own message
	if e.Kind == KindGuardFailure && e.Err != nil {
		return e.Err.Error()
	}
	msg := e.Kind.String()
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Err == nil {
		return e.Op + ": " + msg
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf classifies err. Errors that only wrap a sentinel are recognised too.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range []Kind{
		KindConcurrencyConflict,
		KindAggregateNotFound,
		KindHandlerFailure,
		KindPersistenceFailure,
		KindGuardFailure,
	} {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
