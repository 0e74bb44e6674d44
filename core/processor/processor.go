package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/jonboulle/clockwork"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/modelmycode/cqrs-framework/core/es"
)

const defaultComponent = "processor"

var (
	ErrAlreadyStarted = errors.New("processor already started")
	ErrShutdown       = errors.New("processor is shut down")
)

// TrackingEventProcessor consumes an EventChannel on behalf of a named
// logical processor. Any number of instances may run; the claim record in
// the TokenStore makes sure only one of them is active at a time. The active
// instance dispatches events to the registered handlers in token order and
// checkpoints each event after all handlers returned.
//
// Delivery is at least once: an event whose checkpoint could not be
// persisted is delivered again after the next claim.
type TrackingEventProcessor struct {
	name     string
	tokenID  string
	log      *slog.Logger
	clock    clockwork.Clock
	metrics  Metrics
	channel  es.EventChannel
	store    TokenStore
	registry *handlerRegistry
	claims   ClaimUtils
	opts     options

	claimed chan int64
	lost    chan *activeState

	mu        sync.Mutex
	started   bool
	shutdown  bool
	cancel    context.CancelFunc
	done      chan struct{}
	active    bool
	listeners []activeListener
	nextID    int
}

type activeListener struct {
	id int
	fn func(active bool)
}

func New(
	name string,
	channel es.EventChannel,
	store TokenStore,
	handlers []Handler,
	opts ...Option,
) (*TrackingEventProcessor, error) {
	if name == "" {
		return nil, errors.New("processor name is required")
	}
	if channel == nil || store == nil {
		return nil, errors.New("event channel and token store are required")
	}

	cfg := options{
		log:       slog.Default(),
		clock:     clockwork.NewRealClock(),
		metrics:   NopMetrics(),
		component: defaultComponent,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.timings = cfg.timings.withDefaults()
	if cfg.clientID == "" {
		cfg.clientID = gonanoid.Must(12)
	}

	registry, err := newHandlerRegistry(handlers)
	if err != nil {
		return nil, fmt.Errorf("processor %s: %w", name, err)
	}

	tokenID := TokenID(cfg.component, name)
	return &TrackingEventProcessor{
		name:     name,
		tokenID:  tokenID,
		log:      cfg.log.With(slog.Group("processor", slog.String("name", name), slog.String("client", cfg.clientID))),
		clock:    cfg.clock,
		metrics:  cfg.metrics,
		channel:  channel,
		store:    store,
		registry: registry,
		claims:   NewClaimUtils(cfg.clientID, cfg.clock, cfg.timings.Heartbeat),
		opts:     cfg,
		claimed:  make(chan int64, 1),
		lost:     make(chan *activeState, 1),
	}, nil
}

func (p *TrackingEventProcessor) Name() string     { return p.name }
func (p *TrackingEventProcessor) TokenID() string  { return p.tokenID }
func (p *TrackingEventProcessor) ClientID() string { return p.claims.Base() }

// Events returns the names of the events the processor dispatches.
func (p *TrackingEventProcessor) Events() []string { return p.registry.Events() }

// Start begins polling for the claim. The processor runs until Shutdown is
// called or ctx is done.
func (p *TrackingEventProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.shutdown:
		return ErrShutdown
	case p.started:
		return ErrAlreadyStarted
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)

	p.log.Info("started", slog.String("token_id", p.tokenID), slog.Any("events", p.registry.Events()))
	return nil
}

// Shutdown stops the processor and releases its claim. It blocks until the
// processor has stopped and may be called any number of times from any
// goroutine except an OnActiveChange listener.
func (p *TrackingEventProcessor) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsActive reports whether this instance currently holds the claim.
func (p *TrackingEventProcessor) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// OnActiveChange registers fn for active state transitions. fn is called
// with the current state right away and afterwards only on change. The
// returned function unregisters fn.
func (p *TrackingEventProcessor) OnActiveChange(fn func(active bool)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners = append(p.listeners, activeListener{id: id, fn: fn})
	current := p.active
	p.mu.Unlock()

	fn(current)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, l := range p.listeners {
			if l.id == id {
				p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

func (p *TrackingEventProcessor) setActive(active bool) {
	p.mu.Lock()
	if p.active == active {
		p.mu.Unlock()
		return
	}
	p.active = active
	listeners := make([]activeListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	p.metrics.ActiveChanged(p.name, active)
	for _, l := range listeners {
		l.fn(active)
	}
}

// run is the single goroutine that moves the processor between idle and
// active.
func (p *TrackingEventProcessor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	idle := p.newIdleState()
	var active *activeState
	idle.activate(ctx, 0)

	for {
		select {
		case <-ctx.Done():
			idle.deactivate()
			if active != nil {
				active.deactivate(ctx)
			}
			// a claim taken while shutting down is handed back
			select {
			case <-p.claimed:
				p.releaseClaim(ctx)
			default:
			}
			p.setActive(false)
			p.mu.Lock()
			p.shutdown = true
			p.mu.Unlock()
			p.log.Info("shut down")
			return

		case token := <-p.claimed:
			idle.deactivate()
			active = p.newActiveState()
			if err := active.activate(ctx, token); err != nil {
				p.log.Error("failed to activate", slog.Any("error", err))
				active = nil
				idle.activate(ctx, p.opts.timings.IdleRecheck)
				continue
			}
			p.setActive(true)

		case lostBy := <-p.lost:
			if lostBy != active {
				continue
			}
			active.deactivate(ctx)
			active = nil
			p.setActive(false)
			idle.activate(ctx, 0)
		}
	}
}

func (p *TrackingEventProcessor) newIdleState() *idleState {
	return &idleState{
		log:           p.log.With(slog.String("state", "idle")),
		clock:         p.clock,
		store:         p.store,
		channel:       p.channel,
		claims:        p.claims,
		tokenID:       p.tokenID,
		replayHistory: p.opts.replayHistory,
		recheck:       p.opts.timings.IdleRecheck,
		onClaim: func(token int64) {
			select {
			case p.claimed <- token:
			default:
			}
		},
	}
}

func (p *TrackingEventProcessor) newActiveState() *activeState {
	a := &activeState{
		log:     p.log.With(slog.String("state", "active")),
		clock:   p.clock,
		store:   p.store,
		channel: p.channel,
		claims:  p.claims,
		tokenID: p.tokenID,
		timings: p.opts.timings,
		permits: p.opts.permits,
		metrics: p.metrics,
		name:    p.name,
		process: p.processEvent,
	}
	a.onLost = func(error) {
		select {
		case p.lost <- a:
		default:
		}
	}
	return a
}

func (p *TrackingEventProcessor) releaseClaim(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	releaseClaim(ctx, p.log, p.store, p.claims, p.tokenID)
}

// processEvent dispatches ev to every interested handler and returns once
// all of them are done. Handler failures never stop the processor.
func (p *TrackingEventProcessor) processEvent(ctx context.Context, ev es.TrackedEvent) {
	meta := metaOf(ev)
	payload := ev.Message.Event.Payload

	if p.opts.override != nil {
		err := safeCall(func() error { return p.opts.override(ctx, meta.Name, meta.AggregateID, payload) })
		p.metrics.EventHandled(p.name, meta.Name, err == nil)
		if err != nil {
			p.handlerFailed(ctx, "override", meta, err)
		}
		return
	}

	subs := p.registry.handlersFor(meta.Name)
	if len(subs) == 0 {
		p.log.Debug("no handler", slog.String("event", meta.Name), slog.Int64("token", meta.Token))
		return
	}

	timer := p.metrics.EventDuration(p.name, meta.Name)
	defer timer.ObserveDuration()

	if p.opts.queueHandlers {
		for _, sub := range subs {
			p.invoke(ctx, sub, payload, meta)
		}
		return
	}

	var g errgroup.Group
	for _, sub := range subs {
		g.Go(func() error {
			p.invoke(ctx, sub, payload, meta)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *TrackingEventProcessor) invoke(ctx context.Context, sub subscription, payload any, meta EventMeta) {
	err := safeCall(func() error { return sub.fn(ctx, payload, meta) })
	p.metrics.EventHandled(p.name, meta.Name, err == nil)
	if err != nil {
		p.handlerFailed(ctx, sub.String(), meta, err)
	}
}

func (p *TrackingEventProcessor) handlerFailed(ctx context.Context, target string, meta EventMeta, err error) {
	err = &es.Error{Kind: es.KindHandlerFailure, Op: target, Err: err}

	attrs := []any{
		slog.String("handler", fmt.Sprintf("%s(%s#%s) @%s", target, meta.Name, meta.ID, p.claims.Base())),
		slog.Int64("token", meta.Token),
		slog.Any("error", err),
	}
	var pe *panicError
	if errors.As(err, &pe) {
		attrs = append(attrs, slog.String("stack", string(pe.stack)))
	}
	p.log.Error("event handler failed", attrs...)

	if p.opts.reporter != nil {
		p.opts.reporter(ctx, err, meta)
	}
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn()
}
