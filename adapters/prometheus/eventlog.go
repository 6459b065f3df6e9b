package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/factlog-go/core/eventlog"
	"github.com/codewandler/factlog-go/core/metrics"
)

// logMetrics implements eventlog.Metrics using Prometheus.
type logMetrics struct {
	appendDuration   prometheus.Histogram
	loadDuration     prometheus.Histogram
	eventsAppended   *prometheus.CounterVec
	versionConflicts prometheus.Counter
	eventsDeleted    prometheus.Counter
}

// NewLogMetrics creates a new Prometheus implementation of eventlog.Metrics.
func NewLogMetrics(reg prometheus.Registerer) eventlog.Metrics {
	m := &logMetrics{
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "factlog_append_duration_seconds",
			Help:    "Event log append latency in seconds",
			Buckets: defaultBuckets,
		}),

		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "factlog_load_duration_seconds",
			Help:    "Event log load latency in seconds",
			Buckets: defaultBuckets,
		}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factlog_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"event_type"}),

		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "factlog_version_conflicts_total",
			Help: "Total number of optimistic lock failures",
		}),

		eventsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "factlog_events_deleted_total",
			Help: "Total number of events removed by retention cleanup",
		}),
	}

	reg.MustRegister(
		m.appendDuration,
		m.loadDuration,
		m.eventsAppended,
		m.versionConflicts,
		m.eventsDeleted,
	)

	return m
}

func (m *logMetrics) AppendDuration() metrics.Timer {
	return newTimer(m.appendDuration)
}

func (m *logMetrics) LoadDuration() metrics.Timer {
	return newTimer(m.loadDuration)
}

func (m *logMetrics) EventsAppended(eventType string, count int) {
	m.eventsAppended.WithLabelValues(eventType).Add(float64(count))
}

func (m *logMetrics) VersionConflict() {
	m.versionConflicts.Inc()
}

func (m *logMetrics) EventsDeleted(count int) {
	m.eventsDeleted.Add(float64(count))
}

var _ eventlog.Metrics = (*logMetrics)(nil)
