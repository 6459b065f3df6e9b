package projection

import "github.com/codewandler/factlog-go/core/metrics"

// Metrics is the instrumentation surface of the materializer.
type Metrics interface {
	ReplayDuration(kind string) metrics.Timer
	EventsReplayed(kind string, count int)
	SnapshotSaveDuration(kind string) metrics.Timer
	SnapshotLoadDuration(kind string) metrics.Timer
}

type nopMetrics struct{}

func (nopMetrics) ReplayDuration(string) metrics.Timer       { return metrics.NopTimer() }
func (nopMetrics) EventsReplayed(string, int)                {}
func (nopMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }

// NopMetrics returns a Metrics implementation that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }
