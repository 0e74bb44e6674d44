package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Skip(args ...any)
	Cleanup(func())
}

// NewTestContainer starts a JetStream enabled NATS server for the duration
// of the test. Short test runs skip the calling test.
func NewTestContainer(t Testing) Connector {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := t.Context()
	natsC, err := testcontainers.Run(
		ctx, "nats:latest",
		testcontainers.WithCmd("-js"),
		testcontainers.WithExposedPorts("4222/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("4222/tcp"),
			wait.ForLog("Server is ready"),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(natsC); err != nil {
			t.Errorf("failed to terminate nats container: %s", err.Error())
		}
	})

	endpoint, err := natsC.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)
	t.Logf("nats endpoint: %s", endpoint)
	return ConnectURL(endpoint, nil)
}

// NewTestStores opens an in-memory event stream and a claim bucket on the
// server behind connect. Both are closed with the test.
func NewTestStores(t Testing, connect Connector) (*EventStore, *KvStore) {
	ctx := t.Context()
	events, err := NewEventStore(ctx, EventStoreConfig{
		Connect:       connect,
		StreamName:    "test_events",
		MemoryStorage: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	claims, err := NewKvStore(ctx, KvConfig{Connect: connect, Bucket: "test_claims"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = claims.Close() })
	return events, claims
}
