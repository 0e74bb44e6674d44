// Package metrics declares the instrumentation primitives used by the
// processor and event sourcing packages. Backends live in adapters/.
package metrics

import "time"

// Timer measures one operation. Call ObserveDuration when it completes:
//
//	defer m.PublishDuration("account").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// Observer receives an observation in seconds.
type Observer func(seconds float64)

type funcTimer struct {
	observe Observer
	start   time.Time
}

func (t funcTimer) ObserveDuration() { t.observe(time.Since(t.start).Seconds()) }

// StartTimer returns a Timer that reports the time elapsed since the call.
func StartTimer(observe Observer) Timer {
	if observe == nil {
		return NopTimer()
	}
	return funcTimer{observe: observe, start: time.Now()}
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

func NopTimer() Timer { return nopTimer{} }
