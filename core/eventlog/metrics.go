package eventlog

import "github.com/codewandler/factlog-go/core/metrics"

// Metrics is the instrumentation surface of the event log. Implementations
// must be safe for concurrent use; adapters/prometheus provides one.
type Metrics interface {
	AppendDuration() metrics.Timer
	LoadDuration() metrics.Timer
	EventsAppended(eventType string, count int)
	VersionConflict()
	EventsDeleted(count int)
}

type nopMetrics struct{}

func (nopMetrics) AppendDuration() metrics.Timer  { return metrics.NopTimer() }
func (nopMetrics) LoadDuration() metrics.Timer    { return metrics.NopTimer() }
func (nopMetrics) EventsAppended(string, int)     {}
func (nopMetrics) VersionConflict()               {}
func (nopMetrics) EventsDeleted(int)              {}

// NopMetrics returns a Metrics implementation that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }
