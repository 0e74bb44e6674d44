package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelmycode/cqrs-framework/core/es"
	"github.com/modelmycode/cqrs-framework/core/metrics"
)

// ESMetrics implements es.Metrics.
type ESMetrics struct {
	loadDuration    *prometheus.HistogramVec
	publishDuration *prometheus.HistogramVec
	eventsPublished *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	retries         *prometheus.CounterVec
	guardRejections *prometheus.CounterVec
}

func NewESMetrics(reg prometheus.Registerer) *ESMetrics {
	m := &ESMetrics{
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_load_duration_seconds",
			Help:      "Aggregate load and replay latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_publish_duration_seconds",
			Help:      "Event publish latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_events_published_total",
			Help:      "Total number of events published",
		}, []string{"aggregate_type"}),

		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_concurrency_conflicts_total",
			Help:      "Total number of optimistic concurrency conflicts",
		}, []string{"aggregate_type"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_command_retries_total",
			Help:      "Total number of commands retried after a conflict",
		}, []string{"aggregate_type", "guarded"}),

		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_guard_rejections_total",
			Help:      "Total number of commands rejected by their guard",
		}, []string{"aggregate_type"}),
	}

	reg.MustRegister(
		m.loadDuration,
		m.publishDuration,
		m.eventsPublished,
		m.conflicts,
		m.retries,
		m.guardRejections,
	)
	return m
}

func (m *ESMetrics) LoadDuration(aggType string) metrics.Timer {
	return newTimer(m.loadDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) PublishDuration(aggType string) metrics.Timer {
	return newTimer(m.publishDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) EventsPublished(aggType string, count int) {
	m.eventsPublished.WithLabelValues(aggType).Add(float64(count))
}

func (m *ESMetrics) ConcurrencyConflict(aggType string) {
	m.conflicts.WithLabelValues(aggType).Inc()
}

func (m *ESMetrics) CommandRetried(aggType string, guarded bool) {
	m.retries.WithLabelValues(aggType, boolLabel(guarded)).Inc()
}

func (m *ESMetrics) GuardRejected(aggType string) {
	m.guardRejections.WithLabelValues(aggType).Inc()
}

var _ es.Metrics = (*ESMetrics)(nil)
