package processor

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestClaimUtils(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_123))
	c := NewClaimUtils("node-1", clock, 0)

	require.Equal(t, DefaultHeartbeatInterval, c.HeartbeatInterval())
	require.Equal(t, 40*time.Second, c.AliveDuration())
	require.Equal(t, "node-1-1700000000123", c.NextClaimID())

	clock.Advance(5 * time.Millisecond)
	require.Equal(t, "node-1-1700000000128", c.NextClaimID())
}

func TestClaimUtils_Owns(t *testing.T) {
	c := NewClaimUtils("node-1", clockwork.NewFakeClock(), time.Second)

	require.True(t, c.Owns("node-1-1700000000123"))
	require.False(t, c.Owns("node-10-1700000000123"))
	require.False(t, c.Owns("node-2-1700000000123"))
	require.False(t, c.Owns(""))
}

func TestClaimUtils_IsStale(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewClaimUtils("node-1", clock, 10*time.Second)
	rec := &ClaimRecord{UpdatedAt: clock.Now()}

	clock.Advance(40 * time.Second)
	require.False(t, c.IsStale(rec))

	clock.Advance(time.Millisecond)
	require.True(t, c.IsStale(rec))
}

func TestTokenID(t *testing.T) {
	require.Equal(t, "billing#invoices", TokenID("billing", "invoices"))
}
