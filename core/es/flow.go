package es

import (
	"context"
	"sync"
)

const (
	DefaultPermits     = 64
	DefaultRefillBatch = 16
)

// FlowControl limits the number of unacknowledged events in flight on a
// subscription. Acknowledged permits are returned in batches of refill.
type FlowControl struct {
	mu        sync.Mutex
	available int
	pending   int
	refill    int
	wake      chan struct{}
}

func NewFlowControl(permits, refill int) *FlowControl {
	if permits <= 0 {
		permits = DefaultPermits
	}
	if refill <= 0 {
		refill = DefaultRefillBatch
	}
	refill = min(refill, permits)
	return &FlowControl{
		available: permits,
		refill:    refill,
		wake:      make(chan struct{}, 1),
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (f *FlowControl) Acquire(ctx context.Context) error {
	for {
		f.mu.Lock()
		if f.available > 0 {
			f.available--
			f.mu.Unlock()
			return nil
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.wake:
		}
	}
}

// Release returns one permit. Permits become available again once a full
// refill batch has been released.
func (f *FlowControl) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending++
	if f.pending < f.refill {
		return
	}
	f.available += f.pending
	f.pending = 0
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Available returns the number of permits that can be acquired without blocking.
func (f *FlowControl) Available() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

// Deliver acquires a permit, hands ev to onNext and returns the permit when
// the consumer acknowledges. It returns early when ctx is done.
func (f *FlowControl) Deliver(ctx context.Context, ev TrackedEvent, onNext func(TrackedEvent) <-chan struct{}) error {
	if err := f.Acquire(ctx); err != nil {
		return err
	}
	acked := onNext(ev)
	if acked == nil {
		f.Release()
		return nil
	}
	go func() {
		select {
		case <-acked:
			f.Release()
		case <-ctx.Done():
		}
	}()
	return nil
}
