// Package eventlog implements the append-only, per-stream-versioned store of
// events that everything else derives state from.
//
// The hard invariant is per-stream monotonic, gap-free versioning under
// concurrent writers. Two mechanisms protect it: same-stream appends are
// serialized through a per-key scheduler, and the store itself rejects an
// append whose expected version no longer holds (ErrVersionConflict). Writers
// on different streams proceed fully in parallel.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/factlog-go/core/perkey"
	"github.com/codewandler/factlog-go/core/schema"
)

const defaultMaxRetries = 3

// Log validates drafts, assigns versions and appends to the backing store.
type Log struct {
	log        *slog.Logger
	store      Store
	registry   *schema.Registry
	sched      *perkey.Scheduler[string]
	metrics    Metrics
	clock      func() time.Time
	maxRetries int
}

type (
	logOptions struct {
		log        *slog.Logger
		metrics    Metrics
		clock      func() time.Time
		maxRetries int
	}

	// Option configures a Log.
	Option func(*logOptions)
)

// WithLog sets the logger.
func WithLog(l *slog.Logger) Option { return func(o *logOptions) { o.log = l } }

// WithMetrics sets the instrumentation backend.
func WithMetrics(m Metrics) Option { return func(o *logOptions) { o.metrics = m } }

// WithClock overrides the time source. Tests use this for deterministic
// timestamps.
func WithClock(clock func() time.Time) Option { return func(o *logOptions) { o.clock = clock } }

// WithMaxRetries bounds how often AppendNext recomputes and retries after a
// version conflict.
func WithMaxRetries(n int) Option { return func(o *logOptions) { o.maxRetries = n } }

// New creates a Log on top of store. Drafts are validated against registry
// before they reach the store.
func New(store Store, registry *schema.Registry, opts ...Option) *Log {
	options := logOptions{
		log:        slog.Default(),
		metrics:    NopMetrics(),
		clock:      time.Now,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Log{
		log:        options.log.With(slog.String("component", "eventlog")),
		store:      store,
		registry:   registry,
		sched:      perkey.New[string](),
		metrics:    options.metrics,
		clock:      options.clock,
		maxRetries: options.maxRetries,
	}
}

// Close shuts down the per-stream scheduler.
func (l *Log) Close() { l.sched.Close() }

// Append validates and persists the batch. All drafts must target the same
// stream and their versions must form a contiguous run; the first draft's
// version states the slot directly after the stream's expected latest
// version. Validation failure aborts the entire batch, and the store makes
// the batch visible atomically. Returns ErrVersionConflict when a concurrent
// writer won the slot; recompute the versions and resubmit.
func (l *Log) Append(ctx context.Context, drafts ...Draft) (*AppendResult, error) {
	events, streamID, expect, err := l.prepare(drafts)
	if err != nil {
		return nil, err
	}
	var res *AppendResult
	err = l.sched.DoContext(ctx, streamID, func() error {
		var appendErr error
		res, appendErr = l.append(ctx, streamID, expect, events)
		return appendErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AppendNext is Append with version assignment handled by the log: draft
// versions are ignored, the next free slots are computed from the stream's
// latest version, and a lost race is retried with fresh versions up to the
// configured bound. Use this when the caller has no version expectation of
// its own (audit events, fire-and-forget writes).
func (l *Log) AppendNext(ctx context.Context, drafts ...Draft) (*AppendResult, error) {
	if len(drafts) == 0 {
		return nil, ErrEmptyBatch
	}
	streamID := drafts[0].StreamID

	var res *AppendResult
	err := l.sched.DoContext(ctx, streamID, func() error {
		var lastErr error
		for attempt := 0; attempt <= l.maxRetries; attempt++ {
			latest, err := l.store.LatestVersion(ctx, streamID)
			if err != nil {
				return err
			}
			for i := range drafts {
				drafts[i].Version = latest + Version(i+1)
			}
			events, sid, expect, err := l.prepare(drafts)
			if err != nil {
				return err
			}
			if sid != streamID {
				return ErrMixedStreamBatch
			}
			res, lastErr = l.append(ctx, streamID, expect, events)
			if lastErr == nil {
				return nil
			}
			if !errors.Is(lastErr, ErrVersionConflict) {
				return lastErr
			}
			// an out-of-process writer beat us; recompute and go again
		}
		return lastErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// prepare validates the batch and builds persisted events from drafts.
func (l *Log) prepare(drafts []Draft) (events []Event, streamID string, expect Version, err error) {
	if len(drafts) == 0 {
		return nil, "", 0, ErrEmptyBatch
	}

	streamID = drafts[0].StreamID
	if streamID == "" {
		return nil, "", 0, fmt.Errorf("draft 0: stream id is empty")
	}
	if drafts[0].Version == 0 {
		return nil, "", 0, fmt.Errorf("draft 0: version is zero")
	}
	expect = drafts[0].Version - 1

	now := l.clock()
	events = make([]Event, 0, len(drafts))
	for i, d := range drafts {
		if d.StreamID != streamID {
			return nil, "", 0, fmt.Errorf("%w: draft %d targets %q, batch targets %q",
				ErrMixedStreamBatch, i, d.StreamID, streamID)
		}
		if d.Version != expect+Version(i+1) {
			return nil, "", 0, fmt.Errorf("%w: draft %d has version %d, want %d",
				ErrNonContiguousBatch, i, d.Version, expect+Version(i+1))
		}

		// validation failure aborts the whole batch
		if _, err := l.registry.Decode(d.Type, d.Payload); err != nil {
			return nil, "", 0, fmt.Errorf("draft %d (%s): %w", i, d.Type, err)
		}

		events = append(events, Event{
			ID:         gonanoid.Must(),
			StreamID:   streamID,
			Version:    d.Version,
			Type:       d.Type,
			UserID:     d.UserID,
			OccurredAt: now,
			Payload:    d.Payload,
		})
	}
	return events, streamID, expect, nil
}

func (l *Log) append(ctx context.Context, streamID string, expect Version, events []Event) (*AppendResult, error) {
	defer l.metrics.AppendDuration().ObserveDuration()

	res, err := l.store.Append(ctx, streamID, expect, events)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			l.metrics.VersionConflict()
		}
		return nil, err
	}

	for _, e := range events {
		l.metrics.EventsAppended(e.Type, 1)
	}
	l.log.Debug(
		"appended",
		slog.String("stream_id", streamID),
		slog.Int("num_events", len(events)),
		slog.Uint64("last_seq", res.LastSeq),
		res.LastVersion.SlogAttrWithKey("last_version"),
	)
	return res, nil
}

// Events returns a stream's events ordered by version ascending.
func (l *Log) Events(ctx context.Context, streamID string, opts ...LoadOption) ([]Event, error) {
	defer l.metrics.LoadDuration().ObserveDuration()
	return l.store.Load(ctx, streamID, opts...)
}

// EventsByType returns all events of one type, ordered by timestamp.
func (l *Log) EventsByType(ctx context.Context, eventType string) ([]Event, error) {
	return l.store.Scan(ctx, Filter{Type: eventType})
}

// EventsByUser returns all events recorded by one user, ordered by timestamp.
func (l *Log) EventsByUser(ctx context.Context, userID string) ([]Event, error) {
	return l.store.Scan(ctx, Filter{UserID: userID})
}

// EventsByTimeRange returns all events recorded in [from, to], ordered by
// timestamp.
func (l *Log) EventsByTimeRange(ctx context.Context, from, to time.Time) ([]Event, error) {
	return l.store.Scan(ctx, Filter{From: from, To: to})
}

// LatestVersion returns the stream's current latest version, 0 for an empty
// stream. The next append for the stream occupies LatestVersion+1.
func (l *Log) LatestVersion(ctx context.Context, streamID string) (Version, error) {
	return l.store.LatestVersion(ctx, streamID)
}

// Stats summarizes the log for operational tooling. Not a hot path.
type Stats struct {
	TotalEvents  int            `json:"total_events"`
	EventsByType map[string]int `json:"events_by_type"`
	RecentEvents []Event        `json:"recent_events"`
}

const statsRecentLimit = 10

// Stats returns event totals, a per-type breakdown and the most recent
// events.
func (l *Log) Stats(ctx context.Context) (*Stats, error) {
	all, err := l.store.Scan(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	s := &Stats{
		TotalEvents:  len(all),
		EventsByType: map[string]int{},
	}
	for _, e := range all {
		s.EventsByType[e.Type]++
	}
	recent := len(all)
	if recent > statsRecentLimit {
		recent = statsRecentLimit
	}
	// newest first
	for i := len(all) - 1; i >= len(all)-recent; i-- {
		s.RecentEvents = append(s.RecentEvents, all[i])
	}
	return s, nil
}

// CleanupOlderThan irreversibly removes events recorded before cutoff.
// The caller owns the safety contract: snapshots for every affected stream
// must be newer than cutoff, and no replay that depends on the deleted
// events may run concurrently.
func (l *Log) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted, err := l.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("cleanup failed: %w", err)
	}
	l.metrics.EventsDeleted(deleted)
	l.log.Info("cleanup", slog.Int("deleted", deleted), slog.Time("cutoff", cutoff))
	return deleted, nil
}

// Subscribe attaches a consumer to the store's event feed. Returns
// ErrSubscribeUnsupported when the configured store cannot push events.
func (l *Log) Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error) {
	sub, ok := l.store.(Subscriber)
	if !ok {
		return nil, ErrSubscribeUnsupported
	}
	return sub.Subscribe(ctx, opts...)
}

// DecodePayload decodes an event's payload into its registered typed form.
func (l *Log) DecodePayload(e Event) (schema.Payload, error) {
	return l.registry.Decode(e.Type, e.Payload)
}

// MarshalPayload is a convenience for building drafts from typed payloads.
func MarshalPayload(p schema.Payload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}
