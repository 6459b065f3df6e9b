package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codewandler/factlog-go/core/eventlog"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrEmptyStream is returned when a snapshot is created for a stream
	// with no events: there is nothing to stamp lastEventVersion from.
	ErrEmptyStream = errors.New("stream has no events")
)

// Snapshot is a cached projection of a stream's current state. It is a
// cache, never a source of truth: the event log must always be able to
// reconstruct it by a full replay. It is a valid replay seed only for events
// with Version > LastEventVersion.
type Snapshot struct {
	StreamID         string           `json:"stream_id"`
	Kind             Kind             `json:"kind"`
	Data             json.RawMessage  `json:"data"`
	LastEventID      string           `json:"last_event_id"`
	LastEventVersion eventlog.Version `json:"last_event_version"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// SnapshotStore is the persistence port for snapshots, keyed by
// (streamID, kind).
type SnapshotStore interface {
	Upsert(ctx context.Context, snapshot *Snapshot) error
	Get(ctx context.Context, streamID string, kind Kind) (*Snapshot, error)
}

// === In-memory implementation ===

type InMemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{snapshots: map[string]*Snapshot{}}
}

func snapshotKey(streamID string, kind Kind) string {
	return fmt.Sprintf("%s-%s", kind, streamID)
}

func (s *InMemorySnapshotStore) Upsert(_ context.Context, snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snapshot
	s.snapshots[snapshotKey(snapshot.StreamID, snapshot.Kind)] = &cp
	return nil
}

func (s *InMemorySnapshotStore) Get(_ context.Context, streamID string, kind Kind) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotKey(streamID, kind)]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	cp := *snap
	return &cp, nil
}

var _ SnapshotStore = (*InMemorySnapshotStore)(nil)
