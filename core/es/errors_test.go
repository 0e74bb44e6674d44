package es

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"wrapped sentinel", fmt.Errorf("store: %w", ErrConcurrencyConflict), KindConcurrencyConflict},
		{"typed", newError(KindAggregateNotFound, "load", nil), KindAggregateNotFound},
		{"typed wrapped", fmt.Errorf("outer: %w", newError(KindPersistenceFailure, "publish", errors.New("io"))), KindPersistenceFailure},
		{"guard", newError(KindGuardFailure, "guard", errors.New("nope")), KindGuardFailure},
		{"handler", fmt.Errorf("x: %w", ErrHandlerFailure), KindHandlerFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError(t *testing.T) {
	cause := errors.New("connection reset")
	err := newError(KindPersistenceFailure, "publish", cause)

	require.ErrorIs(t, err, ErrPersistenceFailure)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrConcurrencyConflict)
	require.Equal(t, "publish: persistence failure: connection reset", err.Error())

	require.Equal(t, "load: aggregate not found", newError(KindAggregateNotFound, "load", nil).Error())
	require.Equal(t, "op: unknown: x", newError(KindUnknown, "op", errors.New("x")).Error())
}

func TestError_guardMessageIsVerbatim(t *testing.T) {
	err := newError(KindGuardFailure, "guard", errors.New("account closed"))
	require.Equal(t, "account closed", err.Error())
	require.ErrorIs(t, err, ErrGuardFailure)
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "concurrency_conflict", KindConcurrencyConflict.String())
	require.Equal(t, "unknown", Kind(99).String())
}
