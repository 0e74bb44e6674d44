package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/modelmycode/cqrs-framework/core/es"
)

const (
	DefaultProcessRecheck      = 3 * time.Second
	DefaultCheckpointRetries   = 3
	DefaultCheckpointRetryStep = time.Second

	releaseTimeout = 5 * time.Second
)

var (
	ErrOwnershipLost    = errors.New("claim taken over by another instance")
	ErrCheckpointFailed = errors.New("checkpoint failed")
)

// activeState consumes the channel while this instance owns the claim. It
// renews the claim on every heartbeat and checkpoints each processed event
// before acknowledging it. Loss of ownership, checkpoint exhaustion and
// subscription errors are reported through onLost, which must not block.
type activeState struct {
	log     *slog.Logger
	clock   clockwork.Clock
	store   TokenStore
	channel es.EventChannel
	claims  ClaimUtils
	tokenID string
	timings Timings
	permits int
	metrics Metrics
	name    string

	process func(ctx context.Context, ev es.TrackedEvent)
	onLost  func(err error)

	buffer       *EventBuffer
	cancel       context.CancelFunc
	sub          es.Subscription
	wg           sync.WaitGroup
	once         sync.Once
	lastClientID string
}

func (a *activeState) activate(ctx context.Context, startToken int64) error {
	a.buffer = NewEventBuffer()
	ctx, a.cancel = context.WithCancel(ctx)

	sub, err := a.channel.ListEvents(ctx, es.ListEventsOptions{
		TrackingToken: startToken,
		OnNext:        a.buffer.Add,
		OnError: func(err error) {
			a.log.Error("event channel failed", slog.Any("error", err))
			a.onLost(err)
		},
		Permits: a.permits,
	})
	if err != nil {
		a.cancel()
		return fmt.Errorf("list events after %d: %w", startToken, err)
	}
	a.sub = sub

	a.log.Info("activated", slog.Int64("token", startToken))

	a.wg.Add(2)
	go a.heartbeatLoop(ctx)
	go a.processLoop(ctx)
	return nil
}

// deactivate stops both loops and releases the claim if this instance still
// owns it. Safe to call more than once.
func (a *activeState) deactivate(ctx context.Context) {
	a.once.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.sub != nil {
			a.sub.Cancel()
		}
		a.wg.Wait()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		releaseClaim(ctx, a.log, a.store, a.claims, a.tokenID)
		a.log.Info("deactivated")
	})
}

// releaseClaim clears the owner of the record when this instance holds it.
func releaseClaim(ctx context.Context, log *slog.Logger, store TokenStore, claims ClaimUtils, tokenID string) {
	rec, err := store.Read(ctx, tokenID)
	if err != nil {
		log.Error("failed to read claim for release", slog.Any("error", err))
		return
	}
	if rec == nil || !claims.Owns(rec.ClientID) {
		return
	}
	if err := store.SetClientID(ctx, tokenID, ""); err != nil {
		log.Error("failed to release claim", slog.Any("error", err))
		return
	}
	log.Debug("released claim", slog.Int64("token", rec.Token))
}

func (a *activeState) heartbeatLoop(ctx context.Context) {
	defer a.wg.Done()

	for {
		timer := a.clock.NewTimer(a.claims.HeartbeatInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		if err := a.heartbeat(ctx); err != nil {
			if errors.Is(err, ErrOwnershipLost) {
				a.onLost(err)
				return
			}
			if ctx.Err() != nil {
				return
			}
			a.log.Error("heartbeat failed", slog.Any("error", err))
		}
	}
}

// heartbeat renews the claim. It reports ErrOwnershipLost when a live foreign
// owner holds the record; other errors are transient.
func (a *activeState) heartbeat(ctx context.Context) error {
	rec, err := a.store.Read(ctx, a.tokenID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: claim record vanished", ErrOwnershipLost)
	}

	if a.lastClientID != "" && rec.ClientID != a.lastClientID {
		a.log.Warn(
			"stored client id differs from last written",
			slog.String("stored", rec.ClientID),
			slog.String("written", a.lastClientID),
		)
	}

	if rec.ClientID != "" && !a.claims.Owns(rec.ClientID) && !a.claims.IsStale(rec) {
		a.log.Warn("lost claim", slog.String("owner", rec.ClientID))
		a.metrics.ClaimLost(a.name)
		return fmt.Errorf("%w: %s", ErrOwnershipLost, rec.ClientID)
	}

	clientID := a.claims.NextClaimID()
	if err := a.store.SetClientID(ctx, a.tokenID, clientID); err != nil {
		return err
	}
	a.lastClientID = clientID
	a.log.Debug("heartbeat", slog.String("client_id", clientID))
	return nil
}

func (a *activeState) processLoop(ctx context.Context) {
	defer a.wg.Done()

	for ctx.Err() == nil {
		ev, ack, ok := a.buffer.Peek()
		if !ok {
			a.waitForEvents(ctx)
			continue
		}

		a.process(ctx, ev)

		if err := a.checkpoint(ctx, ev.Token); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Error(
				"giving up on checkpoint, event will be redelivered",
				slog.Int64("token", ev.Token),
				slog.Any("error", err),
			)
			a.onLost(fmt.Errorf("%w: %w", ErrCheckpointFailed, err))
			return
		}

		a.buffer.Dequeue()
		ack()
	}
}

func (a *activeState) waitForEvents(ctx context.Context) {
	timer := a.clock.NewTimer(a.timings.ProcessRecheck)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-a.buffer.Notify():
	case <-timer.Chan():
	}
}

// checkpoint persists token, retrying with linearly growing waits.
func (a *activeState) checkpoint(ctx context.Context, token int64) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: a.timings.CheckpointRetryStep}, uint64(a.timings.CheckpointRetries)),
		ctx,
	)
	err := backoff.RetryNotifyWithTimer(
		func() error {
			err := a.store.SetToken(ctx, a.tokenID, token)
			if errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrTokenRegression) {
				return backoff.Permanent(err)
			}
			return err
		},
		b,
		func(err error, wait time.Duration) {
			a.metrics.CheckpointRetried(a.name)
			a.log.Warn(
				"checkpoint failed, retrying",
				slog.Int64("token", token),
				slog.Duration("wait", wait),
				slog.Any("error", err),
			)
		},
		&clockTimer{clock: a.clock},
	)
	if err != nil {
		return err
	}
	a.metrics.Checkpoint(a.name, token)
	return nil
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// clockTimer drives backoff waits from a clockwork.Clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.timer.Chan() }

var (
	_ backoff.BackOff = (*linearBackOff)(nil)
	_ backoff.Timer   = (*clockTimer)(nil)
)
