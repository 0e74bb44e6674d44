package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timings configures the claim protocol. Zero fields use the defaults.
type Timings struct {
	Heartbeat           time.Duration
	IdleRecheck         time.Duration
	ProcessRecheck      time.Duration
	CheckpointRetries   int
	CheckpointRetryStep time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Heartbeat:           DefaultHeartbeatInterval,
		IdleRecheck:         DefaultIdleRecheck,
		ProcessRecheck:      DefaultProcessRecheck,
		CheckpointRetries:   DefaultCheckpointRetries,
		CheckpointRetryStep: DefaultCheckpointRetryStep,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.Heartbeat <= 0 {
		t.Heartbeat = d.Heartbeat
	}
	if t.IdleRecheck <= 0 {
		t.IdleRecheck = d.IdleRecheck
	}
	if t.ProcessRecheck <= 0 {
		t.ProcessRecheck = d.ProcessRecheck
	}
	if t.CheckpointRetries < 0 {
		t.CheckpointRetries = 0
	} else if t.CheckpointRetries == 0 {
		t.CheckpointRetries = d.CheckpointRetries
	}
	if t.CheckpointRetryStep <= 0 {
		t.CheckpointRetryStep = d.CheckpointRetryStep
	}
	return t
}

type (
	// OverrideFunc replaces handler dispatch for every event.
	OverrideFunc func(ctx context.Context, eventName, aggregateID string, payload any) error
	// ErrorReporter receives handler failures after they have been logged.
	ErrorReporter func(ctx context.Context, err error, meta EventMeta)
)

type options struct {
	log           *slog.Logger
	clock         clockwork.Clock
	metrics       Metrics
	clientID      string
	component     string
	replayHistory bool
	queueHandlers bool
	timings       Timings
	permits       int
	override      OverrideFunc
	reporter      ErrorReporter
}

type Option func(*options)

func WithLog(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClientID sets the base of the claim ids written by this instance. It
// must be unique across live instances.
func WithClientID(base string) Option {
	return func(o *options) { o.clientID = base }
}

// WithComponent sets the component part of the token id.
func WithComponent(component string) Option {
	return func(o *options) { o.component = component }
}

// WithReplayHistory makes a processor without a claim record start from the
// first event instead of the channel tail.
func WithReplayHistory(replay bool) Option {
	return func(o *options) { o.replayHistory = replay }
}

// WithQueueHandlers runs the handlers of one event sequentially in
// registration order instead of concurrently.
func WithQueueHandlers(queue bool) Option {
	return func(o *options) { o.queueHandlers = queue }
}

func WithTimings(t Timings) Option {
	return func(o *options) { o.timings = t }
}

// WithPermits sets the number of unacknowledged events the channel may
// deliver ahead of processing.
func WithPermits(n int) Option {
	return func(o *options) { o.permits = n }
}

// WithOverrideProcess routes every event to fn instead of the registered
// handlers.
func WithOverrideProcess(fn OverrideFunc) Option {
	return func(o *options) { o.override = fn }
}

func WithErrorReporter(fn ErrorReporter) Option {
	return func(o *options) { o.reporter = fn }
}
