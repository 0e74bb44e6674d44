package es

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
)

type (
	valueOption[T any] struct{ v T }
	LogOption          valueOption[*slog.Logger]
	MetricsOption      valueOption[Metrics]
	ClockOption        valueOption[clockwork.Clock]
	MaxAttemptsOption  valueOption[int]
)

type (
	InMemoryOption interface{ applyToMemory(*memoryOpts) }
	SourcingOption interface{ applyToSourcing(*sourcingOpts) }
)

type (
	memoryOpts struct {
		log *slog.Logger
	}

	sourcingOpts struct {
		log         *slog.Logger
		metrics     Metrics
		clock       clockwork.Clock
		maxAttempts int
	}
)

func WithLog(l *slog.Logger) LogOption        { return LogOption{v: l} }
func WithMetrics(m Metrics) MetricsOption     { return MetricsOption{v: m} }
func WithClock(c clockwork.Clock) ClockOption { return ClockOption{v: c} }
func WithMaxAttempts(n int) MaxAttemptsOption { return MaxAttemptsOption{v: n} }

func (o LogOption) applyToMemory(m *memoryOpts) {
	if o.v != nil {
		m.log = o.v
	}
}

func (o LogOption) applyToSourcing(s *sourcingOpts) {
	if o.v != nil {
		s.log = o.v
	}
}

func (o MetricsOption) applyToSourcing(s *sourcingOpts) {
	if o.v != nil {
		s.metrics = o.v
	}
}

func (o ClockOption) applyToSourcing(s *sourcingOpts) {
	if o.v != nil {
		s.clock = o.v
	}
}

func (o MaxAttemptsOption) applyToSourcing(s *sourcingOpts) {
	if o.v > 0 {
		s.maxAttempts = o.v
	}
}
