package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/modelmycode/cqrs-framework/core/es"
	"github.com/modelmycode/cqrs-framework/core/processor"
)

type Config struct {
	Log   *slog.Logger
	Clock clockwork.Clock

	// Store backs aggregate sourcing. Channel and Tokens back processors.
	Store   es.EventStore
	Channel es.EventChannel
	Tokens  processor.TokenStore

	ESMetrics        es.Metrics
	ProcessorMetrics processor.Metrics

	// ClientID is the claim id base shared by all processors of this
	// instance. Defaults to node-<random>.
	ClientID      string
	Component     string
	Timings       processor.Timings
	ReplayHistory bool
	QueueHandlers bool
}

// App owns the event sourcing and processing components of one instance
// and runs the processors as a group.
type App struct {
	cfg Config
	log *slog.Logger

	mu         sync.Mutex
	processors []*processor.TrackingEventProcessor
	started    bool
}

func New(cfg Config) (*App, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ESMetrics == nil {
		cfg.ESMetrics = es.NopMetrics()
	}
	if cfg.ProcessorMetrics == nil {
		cfg.ProcessorMetrics = processor.NopMetrics()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("node-%s", gonanoid.Must(6))
	}
	if cfg.Store == nil && cfg.Channel == nil {
		return nil, errors.New("an event store or event channel is required")
	}

	return &App{
		cfg: cfg,
		log: cfg.Log.With(slog.String("client", cfg.ClientID)),
	}, nil
}

func (a *App) ClientID() string { return a.cfg.ClientID }

// AddProcessor registers a processor that starts with the app. opts are
// applied after the app wide settings.
func (a *App) AddProcessor(name string, handlers []processor.Handler, opts ...processor.Option) (*processor.TrackingEventProcessor, error) {
	if a.cfg.Channel == nil || a.cfg.Tokens == nil {
		return nil, errors.New("processors need an event channel and a token store")
	}

	base := []processor.Option{
		processor.WithLog(a.log),
		processor.WithClock(a.cfg.Clock),
		processor.WithMetrics(a.cfg.ProcessorMetrics),
		processor.WithClientID(a.cfg.ClientID),
		processor.WithTimings(a.cfg.Timings),
		processor.WithReplayHistory(a.cfg.ReplayHistory),
		processor.WithQueueHandlers(a.cfg.QueueHandlers),
	}
	if a.cfg.Component != "" {
		base = append(base, processor.WithComponent(a.cfg.Component))
	}
	p, err := processor.New(name, a.cfg.Channel, a.cfg.Tokens, handlers, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil, errors.New("app already started")
	}
	for _, existing := range a.processors {
		if existing.TokenID() == p.TokenID() {
			return nil, fmt.Errorf("processor %s registered twice", p.TokenID())
		}
	}
	a.processors = append(a.processors, p)
	return p, nil
}

func (a *App) Processors() []*processor.TrackingEventProcessor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*processor.TrackingEventProcessor(nil), a.processors...)
}

// Sourcing returns an engine for aggregates of type T bound to the app's
// store, logger, clock and metrics.
func Sourcing[T es.Aggregate](a *App, newAgg func() T, opts ...es.SourcingOption) (*es.AggregateSourcing[T], error) {
	if a.cfg.Store == nil {
		return nil, errors.New("aggregate sourcing needs an event store")
	}
	base := []es.SourcingOption{
		es.WithLog(a.log),
		es.WithClock(a.cfg.Clock),
		es.WithMetrics(a.cfg.ESMetrics),
	}
	return es.NewAggregateSourcing(a.cfg.Store, newAgg, append(base, opts...)...), nil
}

// Start starts every processor. If one fails to start, the ones already
// started are shut down again.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	a.started = true
	processors := append([]*processor.TrackingEventProcessor(nil), a.processors...)
	a.mu.Unlock()

	for i, p := range processors {
		if err := p.Start(ctx); err != nil {
			shutdown(processors[:i])
			return fmt.Errorf("start processor %s: %w", p.Name(), err)
		}
	}
	a.log.Info("app started", slog.Int("processors", len(processors)))
	return nil
}

// Shutdown stops all processors concurrently and releases their claims.
func (a *App) Shutdown() {
	shutdown(a.Processors())
	a.log.Info("app stopped")
}

// Run starts the app and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.Shutdown()
	return nil
}

func shutdown(processors []*processor.TrackingEventProcessor) {
	var wg sync.WaitGroup
	for _, p := range processors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Shutdown()
		}()
	}
	wg.Wait()
}
