package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLogMetrics(reg)

	require.NotNil(t, m)

	timer := m.AppendDuration()
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.LoadDuration()
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.EventsAppended("document.created", 3)
	m.VersionConflict()
	m.EventsDeleted(2)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["factlog_append_duration_seconds"])
	assert.True(t, names["factlog_events_appended_total"])
	assert.True(t, names["factlog_version_conflicts_total"])
	assert.True(t, names["factlog_events_deleted_total"])
}

func TestNewProjectionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProjectionMetrics(reg)

	require.NotNil(t, m)

	timer := m.ReplayDuration("document")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.EventsReplayed("document", 10)

	timer = m.SnapshotSaveDuration("document")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.SnapshotLoadDuration("document")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["factlog_replay_duration_seconds"])
	assert.True(t, names["factlog_events_replayed_total"])
	assert.True(t, names["factlog_snapshot_load_duration_seconds"])
}

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllMetrics(reg)

	require.NotNil(t, m)
	require.NotNil(t, m.Log)
	require.NotNil(t, m.Projection)

	m.Log.VersionConflict()
	m.Projection.EventsReplayed("chain", 1)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}
