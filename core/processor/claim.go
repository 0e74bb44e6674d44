package processor

import (
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	// a claim is alive while its last write is younger than this many heartbeats
	aliveHeartbeats = 4
)

// TokenID identifies the claim record of a processor.
func TokenID(component, processorName string) string {
	return component + "#" + processorName
}

// ClaimUtils derives claim ids for one processor instance. Every claim or
// heartbeat write uses a fresh id of the form "<base>-<epoch millis>", and an
// instance recognises its own claims by the base prefix.
type ClaimUtils struct {
	base      string
	clock     clockwork.Clock
	heartbeat time.Duration
}

func NewClaimUtils(base string, clock clockwork.Clock, heartbeat time.Duration) ClaimUtils {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return ClaimUtils{base: base, clock: clock, heartbeat: heartbeat}
}

func (c ClaimUtils) Base() string                    { return c.base }
func (c ClaimUtils) HeartbeatInterval() time.Duration { return c.heartbeat }
func (c ClaimUtils) AliveDuration() time.Duration     { return aliveHeartbeats * c.heartbeat }

func (c ClaimUtils) NextClaimID() string {
	return c.base + "-" + strconv.FormatInt(c.clock.Now().UnixMilli(), 10)
}

// Owns reports whether clientID was written by this instance.
func (c ClaimUtils) Owns(clientID string) bool {
	return clientID != "" && strings.HasPrefix(clientID, c.base+"-")
}

// IsStale reports whether the record's owner missed enough heartbeats to be
// considered dead.
func (c ClaimUtils) IsStale(rec *ClaimRecord) bool {
	return c.clock.Since(rec.UpdatedAt) > c.AliveDuration()
}
