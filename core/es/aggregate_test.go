package es_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelmycode/cqrs-framework/core/es"
)

func TestRaiseAndApply(t *testing.T) {
	a := &Account{}
	require.NoError(t, a.Open("alice"))
	require.NoError(t, a.Deposit(5))

	require.Equal(t, "alice", a.Owner)
	require.Equal(t, 5, a.Balance)

	records := a.Uncommitted()
	require.Len(t, records, 2)
	require.Equal(t, "account.opened", records[0].Name)
	require.Equal(t, "Deposited", records[1].Name)
	require.False(t, records[1].Timestamp.IsZero())

	// Uncommitted returns a copy
	records[0].Name = "changed"
	require.Equal(t, "account.opened", a.Uncommitted()[0].Name)

	a.ClearUncommitted()
	require.Empty(t, a.Uncommitted())
}

func TestRaiseAndApply_invalidEventIsNotRecorded(t *testing.T) {
	a := &Account{}
	err := a.Deposit(-1)
	require.ErrorContains(t, err, "amount must be positive")
	require.Empty(t, a.Uncommitted())
	require.Zero(t, a.Applied)
}

func TestPayloads(t *testing.T) {
	records := []es.EventRecord{{Payload: 1}, {Payload: "two"}}
	require.Equal(t, []any{1, "two"}, es.Payloads(records))
}
