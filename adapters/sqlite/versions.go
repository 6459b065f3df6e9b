package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/factlog-go/core/history"
)

// VersionStore implements history.Store on SQLite.
type VersionStore struct {
	db *sql.DB
}

const versionColumns = `id, document_id, number, content, parent_version_id, description,
	is_auto_saved, created_by, created_at, deleted_at, origin_document_id, base_version_id`

func (s *VersionStore) Insert(ctx context.Context, v *history.Version) error {
	var deletedAt any
	if v.DeletedAt != nil {
		deletedAt = v.DeletedAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO versions (`+versionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.DocumentID, v.Number, v.Content, v.ParentVersionID, v.Description,
		v.IsAutoSaved, v.CreatedBy, v.CreatedAt.UnixNano(), deletedAt,
		v.OriginDocumentID, v.BaseVersionID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: document %s number %d", history.ErrNumberConflict, v.DocumentID, v.Number)
		}
		return err
	}
	return nil
}

func (s *VersionStore) Get(ctx context.Context, id string) (*history.Version, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE id = ?", id,
	)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, history.ErrVersionNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *VersionStore) ListByDocument(
	ctx context.Context,
	documentID string,
	includeDeleted bool,
	limit, offset int,
) ([]*history.Version, int, error) {
	cond := "document_id = ?"
	if !includeDeleted {
		cond += " AND deleted_at IS NULL"
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM versions WHERE "+cond, documentID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := "SELECT " + versionColumns + " FROM versions WHERE " + cond + " ORDER BY number DESC"
	args := []any{documentID}
	if limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	} else if offset > 0 {
		q += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*history.Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

func (s *VersionStore) MaxNumber(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(number), 0) FROM versions WHERE document_id = ?", documentID,
	).Scan(&n)
	return n, err
}

func (s *VersionStore) Latest(ctx context.Context, documentID string) (*history.Version, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+` FROM versions
		 WHERE document_id = ? AND deleted_at IS NULL
		 ORDER BY number DESC LIMIT 1`,
		documentID,
	)
	v, err := scanVersion(row)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// distinguish "no versions" from "all soft-deleted"
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM versions WHERE document_id = ?", documentID,
	).Scan(&count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, history.ErrDocumentNotFound
	}
	return nil, history.ErrVersionNotFound
}

func (s *VersionStore) SoftDelete(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE versions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		at.UnixNano(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// false covers both a missing row and an already deleted one; the
	// manager tells them apart with Get
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*history.Version, error) {
	var (
		v         history.Version
		createdAt int64
		deletedAt sql.NullInt64
	)
	err := row.Scan(
		&v.ID, &v.DocumentID, &v.Number, &v.Content, &v.ParentVersionID, &v.Description,
		&v.IsAutoSaved, &v.CreatedBy, &createdAt, &deletedAt,
		&v.OriginDocumentID, &v.BaseVersionID,
	)
	if err != nil {
		return nil, err
	}
	v.CreatedAt = time.Unix(0, createdAt).UTC()
	if deletedAt.Valid {
		t := time.Unix(0, deletedAt.Int64).UTC()
		v.DeletedAt = &t
	}
	return &v, nil
}

var _ history.Store = (*VersionStore)(nil)
