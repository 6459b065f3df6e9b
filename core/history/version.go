// Package history gives documents git-like semantics on top of the event
// log: linear version chains, diffing, restore without losing history, and
// fork/merge across documents.
package history

import (
	"errors"
	"time"
)

var (
	ErrVersionNotFound  = errors.New("version not found")
	ErrDocumentNotFound = errors.New("document has no versions")

	// ErrMergeSourceMissing is returned by MergeBranch when either side has
	// no versions to merge.
	ErrMergeSourceMissing = errors.New("merge source has no versions")

	// ErrNumberConflict signals that a concurrent writer claimed the version
	// number first. The manager recomputes and retries; stores surface it on
	// a (documentID, number) uniqueness violation.
	ErrNumberConflict = errors.New("version number conflict")
)

// Version is one saved content state of a document.
//
// Number is the 1-based ordinal among the document's own versions and is
// independent of the event log's stream versions. ParentVersionID links a
// version to the version it was derived from by edit, restore or branch
// fork, so versions form a tree rooted at the first version. Soft-deleted
// versions keep their slot in the ordinal sequence and stay readable for
// audit; they are only hidden from listings.
type Version struct {
	ID              string     `json:"id"`
	DocumentID      string     `json:"document_id"`
	Number          int        `json:"version_number"`
	Content         string     `json:"content"`
	ParentVersionID string     `json:"parent_version_id,omitempty"`
	Description     string     `json:"description,omitempty"`
	IsAutoSaved     bool       `json:"is_auto_saved,omitempty"`
	CreatedBy       string     `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`

	// OriginDocumentID and BaseVersionID are set on the first version of a
	// branch document, so "X is a branch of Y" is queryable without
	// inferring it from parent links across documents.
	OriginDocumentID string `json:"origin_document_id,omitempty"`
	BaseVersionID    string `json:"base_version_id,omitempty"`
}

// Deleted reports whether the version is soft-deleted.
func (v *Version) Deleted() bool { return v.DeletedAt != nil }
