package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// InMemoryStore is a simple, correct (optimistic) store for tests/dev.
// Appends on one stream serialize on the store mutex; the batch becomes
// visible atomically.
type InMemoryStore struct {
	mu      sync.RWMutex
	log     *slog.Logger
	seq     atomic.Uint64
	streams map[string][]Event
	subs    map[string]*inMemorySubscription
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string][]Event{},
		subs:    map[string]*inMemorySubscription{},
	}
}

func (s *InMemoryStore) Append(
	_ context.Context,
	streamID string,
	expect Version,
	events []Event,
) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}

	s.mu.Lock()

	var (
		stream     = s.streams[streamID]
		curVersion Version
	)
	if len(stream) > 0 {
		curVersion = stream[len(stream)-1].Version
	}
	if curVersion != expect {
		s.mu.Unlock()
		return nil, fmt.Errorf(
			"%w: stream %s is at version %d, expected %d",
			ErrVersionConflict, streamID, curVersion, expect,
		)
	}

	appended := make([]Event, 0, len(events))
	var lastSeq uint64
	for i, e := range events {
		if e.Version != expect+Version(i+1) {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: event %d has version %d, want %d",
				ErrNonContiguousBatch, i, e.Version, expect+Version(i+1))
		}
		if err := e.Validate(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		lastSeq = s.seq.Add(1)
		e.Seq = lastSeq
		appended = append(appended, e)
	}
	s.streams[streamID] = append(stream, appended...)
	s.mu.Unlock()

	s.dispatch(appended)

	return &AppendResult{
		LastSeq:     lastSeq,
		LastVersion: appended[len(appended)-1].Version,
		Events:      appended,
	}, nil
}

func (s *InMemoryStore) Load(_ context.Context, streamID string, opts ...LoadOption) ([]Event, error) {
	var o LoadOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0)
	for _, e := range s.streams[streamID] {
		if e.Version < o.StartVersion {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemoryStore) Scan(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.RLock()
	out := make([]Event, 0)
	for _, stream := range s.streams {
		for _, e := range stream {
			if matchScanFilter(e, filter) {
				out = append(out, e)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (s *InMemoryStore) LatestVersion(_ context.Context, streamID string) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[streamID]
	if len(stream) == 0 {
		return 0, nil
	}
	return stream[len(stream)-1].Version, nil
}

func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, stream := range s.streams {
		kept := stream[:0]
		for _, e := range stream {
			if e.OccurredAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.streams, id)
			continue
		}
		s.streams[id] = kept
	}
	if deleted > 0 {
		s.log.Debug("retention sweep", slog.Int("deleted", deleted), slog.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// === Subscriptions ===

func (s *InMemoryStore) Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error) {
	options := NewSubscribeOpts(opts...)

	s.mu.Lock()

	subID := gonanoid.Must()
	sub := &inMemorySubscription{
		filters: options.Filters(),
		// Everything at or below the watermark is covered by the backlog;
		// the live path drops it so an append racing Subscribe is delivered
		// exactly once and never ahead of older backlog events.
		watermark: s.seq.Load(),
		ch:        make(chan Event, 64),
		cancel: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, subID)
		},
	}

	if options.DeliverPolicy() == DeliverAllPolicy {
		var backlog []Event
		for _, stream := range s.streams {
			for _, e := range stream {
				if matchFilters(e, sub.filters) {
					backlog = append(backlog, e)
				}
			}
		}
		sort.Slice(backlog, func(i, j int) bool { return backlog[i].Seq < backlog[j].Seq })
		for _, e := range backlog {
			select {
			case sub.ch <- e:
			default:
				// slow consumer: drop rather than block the store
			}
		}
	}

	s.subs[subID] = sub
	s.mu.Unlock()

	context.AfterFunc(ctx, sub.Cancel)

	return sub, nil
}

func (s *InMemoryStore) dispatch(events []Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.subs) == 0 {
		return
	}
	for _, e := range events {
		for _, sub := range s.subs {
			if e.Seq <= sub.watermark {
				continue
			}
			if matchFilters(e, sub.filters) {
				select {
				case sub.ch <- e:
				default:
					// slow consumer: drop rather than block the writer
				}
			}
		}
	}
}

type inMemorySubscription struct {
	filters    []SubscribeFilter
	watermark  uint64 // highest seq already covered by the backlog
	ch         chan Event
	cancelOnce sync.Once
	cancel     func()
}

func (i *inMemorySubscription) Chan() <-chan Event { return i.ch }
func (i *inMemorySubscription) Cancel()            { i.cancelOnce.Do(i.cancel) }

var (
	_ Store      = (*InMemoryStore)(nil)
	_ Subscriber = (*InMemoryStore)(nil)
)
