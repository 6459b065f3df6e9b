package nats

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/factlog-go/core/eventlog"
	"github.com/codewandler/factlog-go/core/projection"
)

// requires a running JetStream-enabled server, e.g. `nats-server -js`
func connectTestServer(t *testing.T) Connector {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	return ConnectURL(url)
}

func testEvent(streamID string, version eventlog.Version, eventType string) eventlog.Event {
	return eventlog.Event{
		ID:         gonanoid.Must(),
		StreamID:   streamID,
		Version:    version,
		Type:       eventType,
		OccurredAt: time.Now(),
		Payload:    json.RawMessage(`{}`),
	}
}

func TestNats_EventStore(t *testing.T) {
	connect := connectTestServer(t)
	store, err := NewEventStore(EventStoreConfig{
		Connect:    connect,
		Log:        slog.Default(),
		StreamName: "factlog_test_" + gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz", 8),
	})
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })

	streamID := "doc-" + gonanoid.Must()

	t.Run("append and load", func(t *testing.T) {
		res, err := store.Append(t.Context(), streamID, 0, []eventlog.Event{
			testEvent(streamID, 1, "document.created"),
			testEvent(streamID, 2, "document.updated"),
			testEvent(streamID, 3, "document.updated"),
		})
		require.NoError(t, err)
		require.NotNil(t, res)
		require.EqualValues(t, 3, res.LastVersion)

		v, err := store.LatestVersion(t.Context(), streamID)
		require.NoError(t, err)
		require.EqualValues(t, 3, v)

		events, err := store.Load(t.Context(), streamID)
		require.NoError(t, err)
		require.Len(t, events, 3)
		require.EqualValues(t, 1, events[0].Version)
		require.EqualValues(t, 3, events[2].Version)
	})

	t.Run("stale expectation conflicts", func(t *testing.T) {
		_, err := store.Append(t.Context(), streamID, 1, []eventlog.Event{
			testEvent(streamID, 2, "document.updated"),
		})
		require.ErrorIs(t, err, eventlog.ErrVersionConflict)
	})

	t.Run("load from start version", func(t *testing.T) {
		events, err := store.Load(t.Context(), streamID, eventlog.WithStartVersion(3))
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.EqualValues(t, 3, events[0].Version)
	})

	t.Run("scan by type", func(t *testing.T) {
		events, err := store.Scan(t.Context(), eventlog.Filter{Type: "document.created"})
		require.NoError(t, err)
		require.Len(t, events, 1)
	})

	t.Run("retention cleanup unsupported", func(t *testing.T) {
		_, err := store.DeleteOlderThan(t.Context(), time.Now())
		require.ErrorIs(t, err, ErrRetentionUnsupported)
	})

	t.Run("resubmitting the same batch converges", func(t *testing.T) {
		resumeStream := "doc-" + gonanoid.Must()
		batch := []eventlog.Event{
			testEvent(resumeStream, 1, "document.created"),
			testEvent(resumeStream, 2, "document.updated"),
		}

		_, err := store.Append(t.Context(), resumeStream, 0, batch)
		require.NoError(t, err)

		// Same drafts with regenerated ids and timestamps, as a retry after
		// a mid-publish failure would prepare them. The duplicate window
		// absorbs the already persisted events instead of storing them twice.
		retry := make([]eventlog.Event, len(batch))
		for i, ev := range batch {
			ev.ID = gonanoid.Must()
			ev.OccurredAt = time.Now()
			retry[i] = ev
		}
		res, err := store.Append(t.Context(), resumeStream, 0, retry)
		require.NoError(t, err)
		require.EqualValues(t, 2, res.LastVersion)

		events, err := store.Load(t.Context(), resumeStream)
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.EqualValues(t, 1, events[0].Version)
		require.EqualValues(t, 2, events[1].Version)

		// A different payload at the head version is a real conflict.
		conflicting := testEvent(resumeStream, 2, "document.updated")
		conflicting.Payload = json.RawMessage(`{"title":"other"}`)
		_, err = store.Append(t.Context(), resumeStream, 0, []eventlog.Event{
			testEvent(resumeStream, 1, "document.created"),
			conflicting,
		})
		require.ErrorIs(t, err, eventlog.ErrVersionConflict)
	})

	t.Run("subscribe delivers new events", func(t *testing.T) {
		sub, err := store.Subscribe(t.Context(),
			eventlog.WithFilters(eventlog.SubscribeFilter{StreamID: streamID}),
		)
		require.NoError(t, err)
		defer sub.Cancel()

		_, err = store.Append(t.Context(), streamID, 3, []eventlog.Event{
			testEvent(streamID, 4, "document.updated"),
		})
		require.NoError(t, err)

		select {
		case ev := <-sub.Chan():
			require.EqualValues(t, 4, ev.Version)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	})
}

func TestNats_PublishMsgID(t *testing.T) {
	ev := testEvent("doc-1", 3, "document.updated")
	ev.UserID = "user-1"
	ev.Payload = json.RawMessage(`{"title":"hello"}`)

	retry := ev
	retry.ID = gonanoid.Must()
	retry.OccurredAt = ev.OccurredAt.Add(time.Second)
	retry.Seq = 42
	require.Equal(t, publishMsgID(ev), publishMsgID(retry),
		"id, timestamp and sequence are regenerated per attempt and must not change the dedup id")

	other := ev
	other.Payload = json.RawMessage(`{"title":"other"}`)
	require.NotEqual(t, publishMsgID(ev), publishMsgID(other))

	other = ev
	other.Version = 4
	require.NotEqual(t, publishMsgID(ev), publishMsgID(other))

	other = ev
	other.StreamID = "doc-2"
	require.NotEqual(t, publishMsgID(ev), publishMsgID(other))

	other = ev
	other.Type = "document.created"
	require.NotEqual(t, publishMsgID(ev), publishMsgID(other))
}

func TestNats_SnapshotStore(t *testing.T) {
	connect := connectTestServer(t)
	store, err := NewSnapshotStore(SnapshotStoreConfig{
		Connect: connect,
		Bucket:  "factlog_snapshots_test",
	})
	require.NoError(t, err)
	require.NotNil(t, store)

	streamID := "doc-" + gonanoid.Must()

	_, err = store.Get(t.Context(), streamID, projection.KindDocument)
	require.ErrorIs(t, err, projection.ErrSnapshotNotFound)

	snap := &projection.Snapshot{
		StreamID:         streamID,
		Kind:             projection.KindDocument,
		Data:             json.RawMessage(`{"title":"hello"}`),
		LastEventID:      gonanoid.Must(),
		LastEventVersion: 2,
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, store.Upsert(t.Context(), snap))

	got, err := store.Get(t.Context(), streamID, projection.KindDocument)
	require.NoError(t, err)
	require.Equal(t, snap.LastEventID, got.LastEventID)
	require.EqualValues(t, 2, got.LastEventVersion)
	require.JSONEq(t, `{"title":"hello"}`, string(got.Data))
}
