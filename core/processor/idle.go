package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/modelmycode/cqrs-framework/core/es"
)

const DefaultIdleRecheck = 30 * time.Second

// idleState polls the claim record until this instance owns it. onClaim is
// called at most once per activation, from the polling goroutine, and must
// not block.
type idleState struct {
	log           *slog.Logger
	clock         clockwork.Clock
	store         TokenStore
	channel       es.EventChannel
	claims        ClaimUtils
	tokenID       string
	replayHistory bool
	recheck       time.Duration
	onClaim       func(token int64)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// activate starts polling. The first check runs after delay.
func (s *idleState) activate(ctx context.Context, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, delay, s.done)
}

// deactivate stops polling and waits for an in-flight check to finish.
func (s *idleState) deactivate() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *idleState) run(ctx context.Context, delay time.Duration, done chan struct{}) {
	defer close(done)

	if delay > 0 && !s.wait(ctx, delay) {
		return
	}
	for {
		if token, ok := s.check(ctx); ok {
			s.onClaim(token)
			return
		}
		if !s.wait(ctx, s.recheck) {
			return
		}
	}
}

func (s *idleState) wait(ctx context.Context, d time.Duration) bool {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

// check reads the claim record and takes it when it is missing, ours,
// released or stale.
func (s *idleState) check(ctx context.Context) (int64, bool) {
	if ctx.Err() != nil {
		return 0, false
	}

	rec, err := s.store.Read(ctx, s.tokenID)
	if err != nil {
		s.log.Error("failed to read claim", slog.Any("error", err))
		return 0, false
	}

	if rec == nil {
		token := es.NoToken
		if !s.replayHistory {
			if token, err = s.channel.GetLastToken(ctx); err != nil {
				s.log.Error("failed to read last token", slog.Any("error", err))
				return 0, false
			}
		}
		if err := s.store.Create(ctx, s.tokenID, s.claims.NextClaimID(), token); err != nil {
			// ErrTokenExists means another instance created it first
			s.log.Warn("failed to create claim", slog.Any("error", err))
			return 0, false
		}
		s.log.Info("created claim", slog.Int64("token", token))
		return token, true
	}

	switch {
	case s.claims.Owns(rec.ClientID):
		s.log.Info("resuming own claim", slog.Int64("token", rec.Token))
		return rec.Token, true

	case rec.ClientID == "":
		return s.takeOver(ctx, rec, "released")

	case s.claims.IsStale(rec):
		return s.takeOver(ctx, rec, "stale")

	default:
		s.log.Debug(
			"claimed by another instance",
			slog.String("owner", rec.ClientID),
			slog.Time("updated_at", rec.UpdatedAt),
		)
		return 0, false
	}
}

func (s *idleState) takeOver(ctx context.Context, rec *ClaimRecord, reason string) (int64, bool) {
	if err := s.store.SetClientID(ctx, s.tokenID, s.claims.NextClaimID()); err != nil {
		s.log.Error("failed to take over claim", slog.Any("error", err))
		return 0, false
	}
	s.log.Info(
		"took over claim",
		slog.String("reason", reason),
		slog.String("previous_owner", rec.ClientID),
		slog.Int64("token", rec.Token),
	)
	return rec.Token, true
}
