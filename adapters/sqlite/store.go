// Package sqlite persists events, snapshots and version rows in a single
// SQLite database. It backs all three core persistence ports: the event
// log's Store, the materializer's SnapshotStore, and the history Store.
//
// Optimistic concurrency rests on the schema: UNIQUE(stream_id, version)
// and UNIQUE(document_id, number) turn a lost race into a constraint
// violation, which is mapped to the retryable conflict errors the core
// defines.
package sqlite

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the SQLite handle shared by the three port implementations.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. Safe to call repeatedly.
//
// The connection is configured with WAL mode for concurrent reads, NORMAL
// synchronous mode, a 5s busy timeout, and a single writer connection,
// which is how SQLite wants to be used.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// single writer avoids SQLITE_BUSY storms
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Events returns the event-log port backed by this database.
func (s *Store) Events() *EventStore { return &EventStore{db: s.db} }

// Snapshots returns the snapshot port backed by this database.
func (s *Store) Snapshots() *SnapshotStore { return &SnapshotStore{db: s.db} }

// Versions returns the version-history port backed by this database.
func (s *Store) Versions() *VersionStore { return &VersionStore{db: s.db} }

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE/PRIMARY KEY constraint
// failure.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrConstraint &&
		(serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
