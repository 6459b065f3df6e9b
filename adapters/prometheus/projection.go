package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/factlog-go/core/metrics"
	"github.com/codewandler/factlog-go/core/projection"
)

// projectionMetrics implements projection.Metrics using Prometheus.
type projectionMetrics struct {
	replayDuration       *prometheus.HistogramVec
	eventsReplayed       *prometheus.CounterVec
	snapshotSaveDuration *prometheus.HistogramVec
	snapshotLoadDuration *prometheus.HistogramVec
}

// NewProjectionMetrics creates a new Prometheus implementation of
// projection.Metrics.
func NewProjectionMetrics(reg prometheus.Registerer) projection.Metrics {
	m := &projectionMetrics{
		replayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factlog_replay_duration_seconds",
			Help:    "State replay latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"kind"}),

		eventsReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factlog_events_replayed_total",
			Help: "Total number of events folded during replay",
		}, []string{"kind"}),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factlog_snapshot_save_duration_seconds",
			Help:    "Snapshot save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"kind"}),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factlog_snapshot_load_duration_seconds",
			Help:    "Snapshot load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.replayDuration,
		m.eventsReplayed,
		m.snapshotSaveDuration,
		m.snapshotLoadDuration,
	)

	return m
}

func (m *projectionMetrics) ReplayDuration(kind string) metrics.Timer {
	return newTimer(m.replayDuration.WithLabelValues(kind))
}

func (m *projectionMetrics) EventsReplayed(kind string, count int) {
	m.eventsReplayed.WithLabelValues(kind).Add(float64(count))
}

func (m *projectionMetrics) SnapshotSaveDuration(kind string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(kind))
}

func (m *projectionMetrics) SnapshotLoadDuration(kind string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(kind))
}

var _ projection.Metrics = (*projectionMetrics)(nil)
