package sqlite

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/factlog-go/core/eventlog"
	"github.com/codewandler/factlog-go/core/history"
	"github.com/codewandler/factlog-go/core/projection"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "factlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func testEvent(streamID string, version eventlog.Version, eventType string) eventlog.Event {
	return eventlog.Event{
		ID:         gonanoid.Must(),
		StreamID:   streamID,
		Version:    version,
		Type:       eventType,
		UserID:     "user-1",
		OccurredAt: time.Now().UTC(),
		Payload:    json.RawMessage(`{"title":"t"}`),
	}
}

func TestEventStore_AppendAndLoad(t *testing.T) {
	es := openTestStore(t).Events()

	res, err := es.Append(t.Context(), "doc-1", 0, []eventlog.Event{
		testEvent("doc-1", 1, "document.created"),
		testEvent("doc-1", 2, "document.updated"),
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.LastVersion)
	require.EqualValues(t, 2, res.LastSeq)

	events, err := es.Load(t.Context(), "doc-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.EqualValues(t, 1, events[0].Version)
	require.JSONEq(t, `{"title":"t"}`, string(events[0].Payload))

	v, err := es.LatestVersion(t.Context(), "doc-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, v)
}

func TestEventStore_VersionConflict(t *testing.T) {
	es := openTestStore(t).Events()

	_, err := es.Append(t.Context(), "doc-1", 0, []eventlog.Event{
		testEvent("doc-1", 1, "document.created"),
	})
	require.NoError(t, err)

	// a stale writer expecting version 0 must lose
	_, err = es.Append(t.Context(), "doc-1", 0, []eventlog.Event{
		testEvent("doc-1", 1, "document.updated"),
	})
	require.ErrorIs(t, err, eventlog.ErrVersionConflict)

	// the stream is unchanged
	events, err := es.Load(t.Context(), "doc-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "document.created", events[0].Type)
}

func TestEventStore_BatchAtomicity(t *testing.T) {
	es := openTestStore(t).Events()

	// second event is invalid, nothing from the batch may land
	bad := testEvent("doc-1", 2, "document.updated")
	bad.Type = ""
	_, err := es.Append(t.Context(), "doc-1", 0, []eventlog.Event{
		testEvent("doc-1", 1, "document.created"),
		bad,
	})
	require.Error(t, err)

	events, err := es.Load(t.Context(), "doc-1")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestEventStore_LoadFromStartVersion(t *testing.T) {
	es := openTestStore(t).Events()

	_, err := es.Append(t.Context(), "doc-1", 0, []eventlog.Event{
		testEvent("doc-1", 1, "document.created"),
		testEvent("doc-1", 2, "document.updated"),
		testEvent("doc-1", 3, "document.updated"),
	})
	require.NoError(t, err)

	events, err := es.Load(t.Context(), "doc-1", eventlog.WithStartVersion(2))
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.EqualValues(t, 2, events[0].Version)
}

func TestEventStore_Scan(t *testing.T) {
	es := openTestStore(t).Events()

	e1 := testEvent("doc-1", 1, "document.created")
	e2 := testEvent("doc-2", 1, "document.created")
	e2.UserID = "user-2"
	e3 := testEvent("doc-1", 2, "document.updated")

	_, err := es.Append(t.Context(), "doc-1", 0, []eventlog.Event{e1})
	require.NoError(t, err)
	_, err = es.Append(t.Context(), "doc-2", 0, []eventlog.Event{e2})
	require.NoError(t, err)
	_, err = es.Append(t.Context(), "doc-1", 1, []eventlog.Event{e3})
	require.NoError(t, err)

	byType, err := es.Scan(t.Context(), eventlog.Filter{Type: "document.created"})
	require.NoError(t, err)
	require.Len(t, byType, 2)

	byUser, err := es.Scan(t.Context(), eventlog.Filter{UserID: "user-2"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	require.Equal(t, "doc-2", byUser[0].StreamID)

	all, err := es.Scan(t.Context(), eventlog.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestEventStore_DeleteOlderThan(t *testing.T) {
	es := openTestStore(t).Events()

	old := testEvent("doc-1", 1, "document.created")
	old.OccurredAt = time.Now().UTC().Add(-48 * time.Hour)
	recent := testEvent("doc-1", 2, "document.updated")

	_, err := es.Append(t.Context(), "doc-1", 0, []eventlog.Event{old})
	require.NoError(t, err)
	_, err = es.Append(t.Context(), "doc-1", 1, []eventlog.Event{recent})
	require.NoError(t, err)

	n, err := es.DeleteOlderThan(t.Context(), time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	events, err := es.Load(t.Context(), "doc-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.EqualValues(t, 2, events[0].Version)
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	ss := openTestStore(t).Snapshots()

	_, err := ss.Get(t.Context(), "doc-1", projection.KindDocument)
	require.ErrorIs(t, err, projection.ErrSnapshotNotFound)

	snap := &projection.Snapshot{
		StreamID:         "doc-1",
		Kind:             projection.KindDocument,
		Data:             json.RawMessage(`{"title":"hello"}`),
		LastEventID:      gonanoid.Must(),
		LastEventVersion: 3,
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, ss.Upsert(t.Context(), snap))

	got, err := ss.Get(t.Context(), "doc-1", projection.KindDocument)
	require.NoError(t, err)
	require.EqualValues(t, 3, got.LastEventVersion)
	require.JSONEq(t, `{"title":"hello"}`, string(got.Data))

	// upsert replaces
	snap.LastEventVersion = 5
	snap.Data = json.RawMessage(`{"title":"world"}`)
	require.NoError(t, ss.Upsert(t.Context(), snap))

	got, err = ss.Get(t.Context(), "doc-1", projection.KindDocument)
	require.NoError(t, err)
	require.EqualValues(t, 5, got.LastEventVersion)
	require.JSONEq(t, `{"title":"world"}`, string(got.Data))
}

func testVersion(documentID string, number int) *history.Version {
	return &history.Version{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Number:     number,
		Content:    "content",
		CreatedBy:  "user-1",
		CreatedAt:  time.Now().UTC(),
	}
}

func TestVersionStore_InsertAndGet(t *testing.T) {
	vs := openTestStore(t).Versions()

	v := testVersion("doc-1", 1)
	require.NoError(t, vs.Insert(t.Context(), v))

	got, err := vs.Get(t.Context(), v.ID)
	require.NoError(t, err)
	require.Equal(t, v.ID, got.ID)
	require.Equal(t, 1, got.Number)
	require.Nil(t, got.DeletedAt)

	_, err = vs.Get(t.Context(), "missing")
	require.ErrorIs(t, err, history.ErrVersionNotFound)
}

func TestVersionStore_NumberConflict(t *testing.T) {
	vs := openTestStore(t).Versions()

	require.NoError(t, vs.Insert(t.Context(), testVersion("doc-1", 1)))
	err := vs.Insert(t.Context(), testVersion("doc-1", 1))
	require.ErrorIs(t, err, history.ErrNumberConflict)

	// other documents are unaffected
	require.NoError(t, vs.Insert(t.Context(), testVersion("doc-2", 1)))
}

func TestVersionStore_ListAndLatest(t *testing.T) {
	vs := openTestStore(t).Versions()

	for i := 1; i <= 5; i++ {
		require.NoError(t, vs.Insert(t.Context(), testVersion("doc-1", i)))
	}

	versions, total, err := vs.ListByDocument(t.Context(), "doc-1", false, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, versions, 2)
	require.Equal(t, 5, versions[0].Number)
	require.Equal(t, 4, versions[1].Number)

	versions, _, err = vs.ListByDocument(t.Context(), "doc-1", false, 2, 4)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, 1, versions[0].Number)

	latest, err := vs.Latest(t.Context(), "doc-1")
	require.NoError(t, err)
	require.Equal(t, 5, latest.Number)

	n, err := vs.MaxNumber(t.Context(), "doc-1")
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, err = vs.Latest(t.Context(), "missing")
	require.ErrorIs(t, err, history.ErrDocumentNotFound)
}

func TestVersionStore_SoftDelete(t *testing.T) {
	vs := openTestStore(t).Versions()

	v1 := testVersion("doc-1", 1)
	v2 := testVersion("doc-1", 2)
	require.NoError(t, vs.Insert(t.Context(), v1))
	require.NoError(t, vs.Insert(t.Context(), v2))

	ok, err := vs.SoftDelete(t.Context(), v2.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	// deleted version drops out of the default listing
	versions, total, err := vs.ListByDocument(t.Context(), "doc-1", false, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, versions, 1)
	require.Equal(t, 1, versions[0].Number)

	// but remains reachable for audit
	all, total, err := vs.ListByDocument(t.Context(), "doc-1", true, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, all, 2)

	latest, err := vs.Latest(t.Context(), "doc-1")
	require.NoError(t, err)
	require.Equal(t, 1, latest.Number)

	// the number stays burned
	n, err := vs.MaxNumber(t.Context(), "doc-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// deleting twice reports no transition
	ok, err = vs.SoftDelete(t.Context(), v2.ID, time.Now().UTC())
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = vs.SoftDelete(t.Context(), "missing", time.Now().UTC())
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = vs.SoftDelete(t.Context(), v1.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = vs.Latest(t.Context(), "doc-1")
	require.ErrorIs(t, err, history.ErrVersionNotFound)
}
