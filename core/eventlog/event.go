package eventlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Version is the per-stream version of an event. Versions within a stream
// form a contiguous sequence starting at 1, assigned in append order. It is
// the basis for optimistic concurrency control: an append states the version
// it expects to occupy and loses with ErrVersionConflict if another writer
// got there first.
type Version uint64

func (v Version) Uint64() uint64                       { return uint64(v) }
func (v Version) SlogAttr() slog.Attr                  { return slog.Uint64("version", uint64(v)) }
func (v Version) SlogAttrWithKey(key string) slog.Attr { return slog.Uint64(key, uint64(v)) }

// Event is one immutable, persisted fact. Events are never mutated after
// append; current state is always derived by replay.
type Event struct {
	// ID is the unique identifier of this event.
	ID string `json:"id"`
	// Seq is the global sequence number assigned by the store. It provides
	// total ordering across all streams.
	Seq uint64 `json:"seq"`
	// StreamID groups events belonging to one logical entity
	// (a chain, a document, an agent).
	StreamID string `json:"stream_id"`
	// Version is this event's position within its stream (1, 2, 3, ...).
	Version Version `json:"version"`
	// Type selects the payload schema and the replay reducer.
	Type string `json:"type"`
	// UserID identifies the acting user, when known.
	UserID string `json:"user_id,omitempty"`
	// OccurredAt is when the event was recorded.
	OccurredAt time.Time `json:"occurred_at"`
	// Payload is the JSON-encoded, schema-validated event payload.
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is empty")
	}
	if e.StreamID == "" {
		return fmt.Errorf("event stream id is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is empty")
	}
	if e.Version == 0 {
		return fmt.Errorf("event version is zero")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("event occurred at is zero")
	}
	return nil
}

// SlogGroup returns the event's identifying fields as one log attribute.
func (e Event) SlogGroup() slog.Attr {
	return slog.Group(
		"event",
		slog.String("id", e.ID),
		slog.Uint64("seq", e.Seq),
		e.Version.SlogAttr(),
		slog.String("type", e.Type),
		slog.String("stream_id", e.StreamID),
		slog.Time("occurred_at", e.OccurredAt),
	)
}

// Draft is an event not yet admitted to the log. Version states the stream
// version the draft expects to occupy; Append fails the whole batch with
// ErrVersionConflict if any expectation no longer holds at commit time.
type Draft struct {
	Type     string
	StreamID string
	UserID   string
	Version  Version
	Payload  json.RawMessage
}

// AppendResult reports where a successful append landed.
type AppendResult struct {
	// LastSeq is the global sequence of the last event in the batch.
	LastSeq uint64
	// LastVersion is the stream version of the last event in the batch.
	LastVersion Version
	// Events are the persisted events, in batch order.
	Events []Event
}
