package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/factlog-go/core/projection"
)

type SnapshotStoreConfig struct {
	Connect Connector // Connect creates the underlying NATS connection. If nil, ConnectDefault() is used.
	Bucket  string
}

// SnapshotStore keeps snapshots in a JetStream key-value bucket, keyed by
// kind and stream id.
type SnapshotStore struct {
	kv jetstream.KeyValue
}

func NewSnapshotStore(cfg SnapshotStoreConfig) (*SnapshotStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, _, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "factlog_snapshots"
	}

	kv, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:  bucket,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return nil, err
	}

	return &SnapshotStore{kv: kv}, nil
}

func (s *SnapshotStore) Upsert(ctx context.Context, snapshot *projection.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = s.kv.Put(ctx, snapshotKey(snapshot.StreamID, snapshot.Kind), data)
	return err
}

func (s *SnapshotStore) Get(ctx context.Context, streamID string, kind projection.Kind) (*projection.Snapshot, error) {
	v, err := s.kv.Get(ctx, snapshotKey(streamID, kind))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, projection.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot for %s/%s: %w", kind, streamID, err)
	}
	snap := &projection.Snapshot{}
	if err := json.Unmarshal(v.Value(), snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func snapshotKey(streamID string, kind projection.Kind) string {
	return string(kind) + "." + sanitizeToken(streamID)
}

var _ projection.SnapshotStore = (*SnapshotStore)(nil)
