// Package prometheus provides Prometheus implementations of the es and
// processor metrics interfaces.
package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelmycode/cqrs-framework/core/metrics"
)

const namespace = "cqrs"

func newTimer(h prometheus.Observer) metrics.Timer {
	return metrics.StartTimer(h.Observe)
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds the Prometheus implementations for both halves of the
// framework.
type AllMetrics struct {
	ES        *ESMetrics
	Processor *ProcessorMetrics
}

func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		ES:        NewESMetrics(reg),
		Processor: NewProcessorMetrics(reg),
	}
}

func boolLabel(b bool) string { return strconv.FormatBool(b) }
