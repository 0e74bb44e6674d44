package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelmycode/cqrs-framework/core/metrics"
	"github.com/modelmycode/cqrs-framework/core/processor"
)

// ProcessorMetrics implements processor.Metrics.
type ProcessorMetrics struct {
	eventDuration     *prometheus.HistogramVec
	eventsHandled     *prometheus.CounterVec
	checkpointToken   *prometheus.GaugeVec
	checkpointRetries *prometheus.CounterVec
	active            *prometheus.GaugeVec
	claimsLost        *prometheus.CounterVec
}

func NewProcessorMetrics(reg prometheus.Registerer) *ProcessorMetrics {
	m := &ProcessorMetrics{
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processor_event_duration_seconds",
			Help:      "Time spent dispatching one event to all handlers",
			Buckets:   defaultBuckets,
		}, []string{"processor", "event"}),

		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_events_handled_total",
			Help:      "Total number of handler invocations",
		}, []string{"processor", "event", "success"}),

		checkpointToken: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processor_checkpoint_token",
			Help:      "Last persisted tracking token",
		}, []string{"processor"}),

		checkpointRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_checkpoint_retries_total",
			Help:      "Total number of retried checkpoint writes",
		}, []string{"processor"}),

		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processor_active",
			Help:      "1 while this instance holds the claim",
		}, []string{"processor"}),

		claimsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_claims_lost_total",
			Help:      "Total number of claims taken over by another instance",
		}, []string{"processor"}),
	}

	reg.MustRegister(
		m.eventDuration,
		m.eventsHandled,
		m.checkpointToken,
		m.checkpointRetries,
		m.active,
		m.claimsLost,
	)
	return m
}

func (m *ProcessorMetrics) EventDuration(name, event string) metrics.Timer {
	return newTimer(m.eventDuration.WithLabelValues(name, event))
}

func (m *ProcessorMetrics) EventHandled(name, event string, success bool) {
	m.eventsHandled.WithLabelValues(name, event, boolLabel(success)).Inc()
}

func (m *ProcessorMetrics) Checkpoint(name string, token int64) {
	m.checkpointToken.WithLabelValues(name).Set(float64(token))
}

func (m *ProcessorMetrics) CheckpointRetried(name string) {
	m.checkpointRetries.WithLabelValues(name).Inc()
}

func (m *ProcessorMetrics) ActiveChanged(name string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	m.active.WithLabelValues(name).Set(v)
}

func (m *ProcessorMetrics) ClaimLost(name string) {
	m.claimsLost.WithLabelValues(name).Inc()
}

var _ processor.Metrics = (*ProcessorMetrics)(nil)
