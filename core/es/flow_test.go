package es

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlowControl(t *testing.T) {
	fc := NewFlowControl(3, 2)
	for range 3 {
		require.NoError(t, fc.Acquire(t.Context()))
	}
	require.Zero(t, fc.Available())

	// a single release does not complete a refill batch
	fc.Release()
	require.Zero(t, fc.Available())

	fc.Release()
	require.Equal(t, 2, fc.Available())
}

func TestFlowControl_AcquireBlocks(t *testing.T) {
	fc := NewFlowControl(1, 1)
	require.NoError(t, fc.Acquire(t.Context()))

	acquired := make(chan error, 1)
	go func() { acquired <- fc.Acquire(t.Context()) }()

	select {
	case <-acquired:
		t.Fatal("acquire should block")
	case <-time.After(20 * time.Millisecond):
	}

	fc.Release()
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire should unblock after release")
	}
}

func TestFlowControl_AcquireCancelled(t *testing.T) {
	fc := NewFlowControl(1, 1)
	require.NoError(t, fc.Acquire(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, fc.Acquire(ctx), context.Canceled)
}

func TestFlowControl_Defaults(t *testing.T) {
	fc := NewFlowControl(0, 0)
	require.Equal(t, DefaultPermits, fc.Available())
	require.Equal(t, DefaultRefillBatch, fc.refill)

	// refill never exceeds permits
	require.Equal(t, 2, NewFlowControl(2, 16).refill)
}
