package es

import "github.com/modelmycode/cqrs-framework/core/metrics"

// Metrics instruments AggregateSourcing. Implementations must be safe for
// concurrent use.
type Metrics interface {
	LoadDuration(aggType string) metrics.Timer
	PublishDuration(aggType string) metrics.Timer
	EventsPublished(aggType string, count int)
	ConcurrencyConflict(aggType string)
	CommandRetried(aggType string, guarded bool)
	GuardRejected(aggType string)
}

type nopMetrics struct{}

func (nopMetrics) LoadDuration(string) metrics.Timer    { return metrics.NopTimer() }
func (nopMetrics) PublishDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventsPublished(string, int)          {}
func (nopMetrics) ConcurrencyConflict(string)           {}
func (nopMetrics) CommandRetried(string, bool)          {}
func (nopMetrics) GuardRejected(string)                 {}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
