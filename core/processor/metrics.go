package processor

import "github.com/modelmycode/cqrs-framework/core/metrics"

// Metrics instruments TrackingEventProcessor. Implementations must be safe
// for concurrent use.
type Metrics interface {
	EventDuration(processor, event string) metrics.Timer
	EventHandled(processor, event string, success bool)
	Checkpoint(processor string, token int64)
	CheckpointRetried(processor string)
	ActiveChanged(processor string, active bool)
	ClaimLost(processor string)
}

type nopMetrics struct{}

func (nopMetrics) EventDuration(string, string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventHandled(string, string, bool)          {}
func (nopMetrics) Checkpoint(string, int64)                   {}
func (nopMetrics) CheckpointRetried(string)                   {}
func (nopMetrics) ActiveChanged(string, bool)                 {}
func (nopMetrics) ClaimLost(string)                           {}

func NopMetrics() Metrics { return nopMetrics{} }
