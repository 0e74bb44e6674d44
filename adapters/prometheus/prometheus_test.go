package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)

	m.LoadDuration("account").ObserveDuration()
	m.PublishDuration("account").ObserveDuration()
	m.EventsPublished("account", 3)
	m.EventsPublished("account", 2)
	m.ConcurrencyConflict("account")
	m.CommandRetried("account", true)
	m.CommandRetried("account", false)
	m.GuardRejected("account")

	assert.Equal(t, 5.0, testutil.ToFloat64(m.eventsPublished.WithLabelValues("account")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("account", "true")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.loadDuration))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 6)
}

func TestNewProcessorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProcessorMetrics(reg)

	m.EventDuration("orders", "OrderPlaced").ObserveDuration()
	m.EventHandled("orders", "OrderPlaced", true)
	m.EventHandled("orders", "OrderPlaced", false)
	m.Checkpoint("orders", 41)
	m.Checkpoint("orders", 42)
	m.CheckpointRetried("orders")
	m.ActiveChanged("orders", true)
	m.ClaimLost("orders")

	assert.Equal(t, 42.0, testutil.ToFloat64(m.checkpointToken.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsHandled.WithLabelValues("orders", "OrderPlaced", "false")))

	m.ActiveChanged("orders", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active.WithLabelValues("orders")))
}

func TestNewAllMetrics_registersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllMetrics(reg)
	require.NotNil(t, m.ES)
	require.NotNil(t, m.Processor)

	assert.Panics(t, func() { NewAllMetrics(reg) }, "duplicate registration")
}
