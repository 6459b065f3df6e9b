package eventlog

import (
	"context"
	"time"
)

type (
	// LoadOptions narrow a per-stream load.
	LoadOptions struct {
		StartVersion Version
	}

	LoadOption func(*LoadOptions)

	// Filter narrows a cross-stream scan. Zero fields match everything.
	// Results are ordered by timestamp ascending (global sequence as the
	// tiebreaker).
	Filter struct {
		Type   string
		UserID string
		From   time.Time
		To     time.Time
	}
)

// WithStartVersion loads only events with Version >= v.
func WithStartVersion(v Version) LoadOption {
	return func(o *LoadOptions) { o.StartVersion = v }
}

// Store is the persistence port for the event log. Implementations must make
// Append atomic across the batch: either every event becomes visible or none
// does, and the (streamID, version) pair is unique. The adapters/sqlite and
// adapters/nats packages provide durable implementations; InMemoryStore
// serves tests and development.
type Store interface {
	// Append persists the batch if the stream's current latest version still
	// equals expect. Returns ErrVersionConflict otherwise.
	Append(ctx context.Context, streamID string, expect Version, events []Event) (*AppendResult, error)

	// Load returns a stream's events ordered by version ascending.
	// A stream with no events yields an empty slice, not an error.
	Load(ctx context.Context, streamID string, opts ...LoadOption) ([]Event, error)

	// Scan returns events across all streams matching filter, ordered by
	// timestamp ascending. Read-only projection for observability and
	// filtered queries; not a hot path.
	Scan(ctx context.Context, filter Filter) ([]Event, error)

	// LatestVersion returns the stream's current latest version, 0 when the
	// stream has no events.
	LatestVersion(ctx context.Context, streamID string) (Version, error)

	// DeleteOlderThan irreversibly removes events recorded before cutoff and
	// reports how many were removed. Callers must ensure every snapshot that
	// depends on the affected streams is newer than cutoff first, or replay
	// guarantees break.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// === Subscriptions ===

type DeliverPolicy string

const (
	// DeliverAllPolicy replays the retained history before going live.
	DeliverAllPolicy DeliverPolicy = "all"
	// DeliverNewPolicy delivers only events appended after subscribing.
	DeliverNewPolicy DeliverPolicy = "new"
)

// SubscribeFilter selects events by type and/or stream. Empty fields match
// everything.
type SubscribeFilter struct {
	Type     string
	StreamID string
}

type SubscribeOpts struct {
	deliverPolicy DeliverPolicy
	filters       []SubscribeFilter
}

func (s *SubscribeOpts) DeliverPolicy() DeliverPolicy { return s.deliverPolicy }
func (s *SubscribeOpts) Filters() []SubscribeFilter   { return s.filters }

type SubscribeOption func(*SubscribeOpts)

func NewSubscribeOpts(opts ...SubscribeOption) SubscribeOpts {
	options := SubscribeOpts{deliverPolicy: DeliverNewPolicy}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithDeliverPolicy(policy DeliverPolicy) SubscribeOption {
	return func(o *SubscribeOpts) { o.deliverPolicy = policy }
}

func WithFilters(filters ...SubscribeFilter) SubscribeOption {
	return func(o *SubscribeOpts) { o.filters = filters }
}

type Subscription interface {
	Cancel()
	Chan() <-chan Event
}

// Subscriber is implemented by stores that can push events to downstream
// consumers (the UI event-sourcing hook, the execution-result recorder).
type Subscriber interface {
	Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error)
}

func matchFilters(ev Event, filters []SubscribeFilter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if matchFilter(ev, f) {
			return true
		}
	}
	return false
}

func matchFilter(ev Event, f SubscribeFilter) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.StreamID != "" && ev.StreamID != f.StreamID {
		return false
	}
	return true
}

func matchScanFilter(ev Event, f Filter) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if !f.From.IsZero() && ev.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ev.OccurredAt.After(f.To) {
		return false
	}
	return true
}
