package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/codewandler/factlog-go/core/eventlog"
)

// EventStore implements eventlog.Store on SQLite. Batch atomicity comes from
// the surrounding transaction; optimistic versioning from the current-max
// check plus the UNIQUE(stream_id, version) constraint.
type EventStore struct {
	db *sql.DB
}

const eventColumns = "seq, id, stream_id, version, type, user_id, occurred_at, payload"

func (s *EventStore) Append(
	ctx context.Context,
	streamID string,
	expect eventlog.Version,
	events []eventlog.Event,
) (*eventlog.AppendResult, error) {
	if len(events) == 0 {
		return nil, eventlog.ErrEmptyBatch
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var current uint64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = ?", streamID,
	).Scan(&current)
	if err != nil {
		return nil, err
	}
	if eventlog.Version(current) != expect {
		return nil, fmt.Errorf(
			"%w: stream %s is at version %d, expected %d",
			eventlog.ErrVersionConflict, streamID, current, expect,
		)
	}

	appended := make([]eventlog.Event, 0, len(events))
	var lastSeq uint64
	for i, e := range events {
		if e.Version != expect+eventlog.Version(i+1) {
			return nil, fmt.Errorf("%w: event %d has version %d, want %d",
				eventlog.ErrNonContiguousBatch, i, e.Version, expect+eventlog.Version(i+1))
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, stream_id, version, type, user_id, occurred_at, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.StreamID, uint64(e.Version), e.Type, e.UserID,
			e.OccurredAt.UnixNano(), nullableJSON(e.Payload),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: stream %s version %d already written",
					eventlog.ErrVersionConflict, streamID, e.Version)
			}
			return nil, err
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		lastSeq = e.Seq
		appended = append(appended, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &eventlog.AppendResult{
		LastSeq:     lastSeq,
		LastVersion: appended[len(appended)-1].Version,
		Events:      appended,
	}, nil
}

func (s *EventStore) Load(ctx context.Context, streamID string, opts ...eventlog.LoadOption) ([]eventlog.Event, error) {
	var o eventlog.LoadOptions
	for _, opt := range opts {
		opt(&o)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE stream_id = ? AND version >= ? ORDER BY version ASC",
		streamID, uint64(o.StartVersion),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *EventStore) Scan(ctx context.Context, filter eventlog.Filter) ([]eventlog.Event, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, filter.To.UnixNano())
	}

	q := "SELECT " + eventColumns + " FROM events"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at ASC, seq ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *EventStore) LatestVersion(ctx context.Context, streamID string) (eventlog.Version, error) {
	var v uint64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = ?", streamID,
	).Scan(&v)
	if err != nil {
		return 0, err
	}
	return eventlog.Version(v), nil
}

func (s *EventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE occurred_at < ?", cutoff.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanEvents(rows *sql.Rows) ([]eventlog.Event, error) {
	out := make([]eventlog.Event, 0)
	for rows.Next() {
		var (
			e       eventlog.Event
			version uint64
			nanos   int64
			payload sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.StreamID, &version, &e.Type, &e.UserID, &nanos, &payload); err != nil {
			return nil, err
		}
		e.Version = eventlog.Version(version)
		e.OccurredAt = time.Unix(0, nanos).UTC()
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ eventlog.Store = (*EventStore)(nil)
