package eventlog

import "errors"

var (
	// ErrVersionConflict signals that a concurrent writer appended to the
	// stream first. It is expected under contention, cheap to detect, and
	// safe to retry with a recomputed version.
	ErrVersionConflict = errors.New("version conflict")

	// ErrEmptyBatch is returned by Append when no drafts are supplied.
	ErrEmptyBatch = errors.New("no events to append")

	// ErrMixedStreamBatch is returned when one batch targets more than one
	// stream. Batch atomicity is a per-stream guarantee.
	ErrMixedStreamBatch = errors.New("batch spans multiple streams")

	// ErrNonContiguousBatch is returned when draft versions within a batch
	// do not form a contiguous ascending run.
	ErrNonContiguousBatch = errors.New("batch versions are not contiguous")

	// ErrSubscribeUnsupported is returned by Subscribe when the configured
	// store cannot push events.
	ErrSubscribeUnsupported = errors.New("store does not support subscriptions")
)
