package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/factlog-go/core/diff"
	"github.com/codewandler/factlog-go/core/eventlog"
	"github.com/codewandler/factlog-go/core/perkey"
	"github.com/codewandler/factlog-go/core/schema"
)

const createRetries = 3

// AuditLog is the slice of the event log the manager appends audit events
// to. *eventlog.Log satisfies it.
type AuditLog interface {
	AppendNext(ctx context.Context, drafts ...eventlog.Draft) (*eventlog.AppendResult, error)
}

// Manager owns a document's version chain: every save, auto-save, restore
// and merge flows through CreateVersion, and every mutation leaves an audit
// event in the log.
type Manager struct {
	log    *slog.Logger
	store  Store
	audit  AuditLog
	differ *diff.Engine
	sched  *perkey.Scheduler[string]
	clock  func() time.Time
	newID  func() string
}

type (
	managerOptions struct {
		log   *slog.Logger
		clock func() time.Time
		newID func() string
	}

	// ManagerOption configures a Manager.
	ManagerOption func(*managerOptions)
)

// WithLog sets the logger.
func WithLog(l *slog.Logger) ManagerOption { return func(o *managerOptions) { o.log = l } }

// WithClock overrides the time source.
func WithClock(clock func() time.Time) ManagerOption {
	return func(o *managerOptions) { o.clock = clock }
}

// WithIDGenerator overrides version id generation. Tests use this for
// stable ids.
func WithIDGenerator(newID func() string) ManagerOption {
	return func(o *managerOptions) { o.newID = newID }
}

// NewManager creates a Manager over the version store, emitting audit events
// into audit.
func NewManager(store Store, audit AuditLog, opts ...ManagerOption) *Manager {
	options := managerOptions{
		log:   slog.Default(),
		clock: time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Manager{
		log:    options.log.With(slog.String("component", "history")),
		store:  store,
		audit:  audit,
		differ: diff.NewEngine(),
		sched:  perkey.New[string](),
		clock:  options.clock,
		newID:  options.newID,
	}
}

// Close shuts down the per-document scheduler.
func (m *Manager) Close() { m.sched.Close() }

// CreateVersion saves a new content state for the document. The version
// number is the next ordinal for the document; parentVersionID may be empty
// for a document's first version. Appends a DOCUMENT_VERSION_CREATED audit
// event.
func (m *Manager) CreateVersion(
	ctx context.Context,
	documentID string,
	content string,
	description string,
	userID string,
	isAutoSaved bool,
	parentVersionID string,
) (*Version, error) {
	return m.create(ctx, &Version{
		DocumentID:      documentID,
		Content:         content,
		Description:     description,
		CreatedBy:       userID,
		IsAutoSaved:     isAutoSaved,
		ParentVersionID: parentVersionID,
	})
}

// create is the single mutation point for version rows. Number assignment is
// serialized per document; a lost race against an out-of-process writer is
// retried with a recomputed number.
func (m *Manager) create(ctx context.Context, v *Version) (*Version, error) {
	if v.DocumentID == "" {
		return nil, fmt.Errorf("document id is empty")
	}

	v.ID = m.newID()
	v.CreatedAt = m.clock()

	err := m.sched.DoContext(ctx, v.DocumentID, func() error {
		var lastErr error
		for attempt := 0; attempt <= createRetries; attempt++ {
			maxNumber, err := m.store.MaxNumber(ctx, v.DocumentID)
			if err != nil {
				return err
			}
			v.Number = maxNumber + 1
			lastErr = m.store.Insert(ctx, v)
			if lastErr == nil {
				return nil
			}
			if !errors.Is(lastErr, ErrNumberConflict) {
				return lastErr
			}
		}
		return lastErr
	})
	if err != nil {
		return nil, err
	}

	if err := m.appendAudit(ctx, v.DocumentID, v.CreatedBy, schema.TypeVersionCreated, &schema.VersionCreated{
		VersionID:     v.ID,
		DocumentID:    v.DocumentID,
		VersionNumber: v.Number,
		Description:   v.Description,
		IsAutoSaved:   v.IsAutoSaved,
	}); err != nil {
		return nil, err
	}

	m.log.Debug(
		"version created",
		slog.String("document_id", v.DocumentID),
		slog.String("version_id", v.ID),
		slog.Int("number", v.Number),
		slog.Bool("auto_saved", v.IsAutoSaved),
	)
	return v, nil
}

func (m *Manager) appendAudit(ctx context.Context, streamID, userID, eventType string, payload schema.Payload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = m.audit.AppendNext(ctx, eventlog.Draft{
		Type:     eventType,
		StreamID: streamID,
		UserID:   userID,
		Payload:  raw,
	})
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	return nil
}

// Versions lists the document's versions, newest first. Soft-deleted
// versions are hidden; they remain reachable by id via Version for audit.
func (m *Manager) Versions(ctx context.Context, documentID string) ([]*Version, error) {
	versions, _, err := m.store.ListByDocument(ctx, documentID, false, 0, 0)
	return versions, err
}

// Version returns one version by id, soft-deleted or not.
func (m *Manager) Version(ctx context.Context, id string) (*Version, error) {
	return m.store.Get(ctx, id)
}

// LatestVersion returns the document's current head: the non-deleted version
// with the highest number.
func (m *Manager) LatestVersion(ctx context.Context, documentID string) (*Version, error) {
	return m.store.Latest(ctx, documentID)
}

// VersionDiff compares two versions' content. Fails with ErrVersionNotFound
// when either id is missing.
func (m *Manager) VersionDiff(ctx context.Context, id1, id2 string) (*diff.Diff, error) {
	v1, err := m.store.Get(ctx, id1)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", id1, err)
	}
	v2, err := m.store.Get(ctx, id2)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", id2, err)
	}
	d := m.differ.Diff(v1.Content, v2.Content)
	return &d, nil
}

// detectConflicts is a stub kept for interface stability with the original
// system: it always reports no conflicts. Documented behavior, not a bug.
func (m *Manager) detectConflicts(_ *Version, _ *Version) []string { return nil }

// RestoreVersion makes a prior version's content the new head without
// rewriting history: a new version is created whose content equals the
// target's and whose parent is the current head. No existing version is
// touched. Appends DOCUMENT_VERSION_RESTORED next to the created version's
// audit event.
func (m *Manager) RestoreVersion(
	ctx context.Context,
	documentID string,
	versionID string,
	userID string,
	description string,
) (string, error) {
	target, err := m.store.Get(ctx, versionID)
	if err != nil {
		return "", fmt.Errorf("restore target %s: %w", versionID, err)
	}
	if target.DocumentID != documentID {
		return "", fmt.Errorf("restore target %s: %w", versionID, ErrVersionNotFound)
	}
	head, err := m.store.Latest(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("document %s head: %w", documentID, err)
	}

	_ = m.detectConflicts(head, target)

	if description == "" {
		description = fmt.Sprintf("Restored from version %d", target.Number)
	}
	restored, err := m.create(ctx, &Version{
		DocumentID:      documentID,
		Content:         target.Content,
		Description:     description,
		CreatedBy:       userID,
		ParentVersionID: head.ID,
	})
	if err != nil {
		return "", err
	}

	if err := m.appendAudit(ctx, documentID, userID, schema.TypeVersionRestored, &schema.VersionRestored{
		DocumentID:            documentID,
		RestoredFromVersionID: target.ID,
		NewVersionID:          restored.ID,
	}); err != nil {
		return "", err
	}

	m.log.Info(
		"version restored",
		slog.String("document_id", documentID),
		slog.String("restored_from", target.ID),
		slog.String("new_version_id", restored.ID),
	)
	return restored.ID, nil
}

// DeleteVersion soft-deletes a version: it keeps its ordinal slot and stays
// readable by id, but disappears from listings. Returns false when the id
// does not exist. Appends DOCUMENT_VERSION_DELETED once; deleting an already
// deleted version returns true without a second audit event.
func (m *Manager) DeleteVersion(ctx context.Context, versionID string, userID string) (bool, error) {
	v, err := m.store.Get(ctx, versionID)
	if err != nil {
		if errors.Is(err, ErrVersionNotFound) {
			return false, nil
		}
		return false, err
	}

	deleted, err := m.store.SoftDelete(ctx, versionID, m.clock())
	if err != nil {
		return false, err
	}
	if !deleted {
		// the version exists, so this is a repeat delete and its audit
		// event is already on the stream
		return true, nil
	}

	if err := m.appendAudit(ctx, v.DocumentID, userID, schema.TypeVersionDeleted, &schema.VersionDeleted{
		DocumentID: v.DocumentID,
		VersionID:  versionID,
	}); err != nil {
		return true, err
	}
	return true, nil
}

// History is one page of a document's version listing.
type History struct {
	Versions []*Version `json:"versions"`
	Total    int        `json:"total"`
}

// VersionHistory returns a page of the document's versions, newest first,
// excluding soft-deleted versions. Total counts all non-deleted versions.
func (m *Manager) VersionHistory(ctx context.Context, documentID string, limit, offset int) (*History, error) {
	versions, total, err := m.store.ListByDocument(ctx, documentID, false, limit, offset)
	if err != nil {
		return nil, err
	}
	return &History{Versions: versions, Total: total}, nil
}
