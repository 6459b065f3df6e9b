package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/codewandler/factlog-go/core/eventlog"
	"github.com/codewandler/factlog-go/core/projection"
)

// SnapshotStore implements projection.SnapshotStore on SQLite.
type SnapshotStore struct {
	db *sql.DB
}

func (s *SnapshotStore) Upsert(ctx context.Context, snap *projection.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (stream_id, kind, data, last_event_id, last_event_version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (stream_id, kind) DO UPDATE SET
		   data = excluded.data,
		   last_event_id = excluded.last_event_id,
		   last_event_version = excluded.last_event_version,
		   updated_at = excluded.updated_at`,
		snap.StreamID, string(snap.Kind), string(snap.Data),
		snap.LastEventID, uint64(snap.LastEventVersion), snap.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SnapshotStore) Get(ctx context.Context, streamID string, kind projection.Kind) (*projection.Snapshot, error) {
	var (
		snap    = projection.Snapshot{StreamID: streamID, Kind: kind}
		data    string
		version uint64
		nanos   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, last_event_id, last_event_version, updated_at
		 FROM snapshots WHERE stream_id = ? AND kind = ?`,
		streamID, string(kind),
	).Scan(&data, &snap.LastEventID, &version, &nanos)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, projection.ErrSnapshotNotFound
		}
		return nil, err
	}
	snap.Data = json.RawMessage(data)
	snap.LastEventVersion = eventlog.Version(version)
	snap.UpdatedAt = time.Unix(0, nanos).UTC()
	return &snap, nil
}

var _ projection.SnapshotStore = (*SnapshotStore)(nil)
