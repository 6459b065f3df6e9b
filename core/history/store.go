package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the persistence port for version rows. Implementations must
// enforce uniqueness of (DocumentID, Number) and surface ErrNumberConflict
// on violation; the manager retries with a recomputed number.
type Store interface {
	Insert(ctx context.Context, v *Version) error

	// Get returns the version by id, soft-deleted or not.
	// Fails with ErrVersionNotFound.
	Get(ctx context.Context, id string) (*Version, error)

	// ListByDocument returns the document's versions descending by Number
	// plus the total count matching the includeDeleted choice. limit <= 0
	// means no limit.
	ListByDocument(ctx context.Context, documentID string, includeDeleted bool, limit, offset int) ([]*Version, int, error)

	// MaxNumber returns the highest version number for the document
	// including soft-deleted versions, 0 when the document has none.
	MaxNumber(ctx context.Context, documentID string) (int, error)

	// Latest returns the non-deleted version with the highest number.
	// Fails with ErrDocumentNotFound when the document has no versions at
	// all, ErrVersionNotFound when every version is soft-deleted.
	Latest(ctx context.Context, documentID string) (*Version, error)

	// SoftDelete stamps the version deleted and returns true when this call
	// performed the transition. Returns false when the id does not exist or
	// the version was already deleted; the caller distinguishes via Get.
	SoftDelete(ctx context.Context, id string, at time.Time) (bool, error)
}

// === In-memory implementation ===

type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Version
	byDoc  map[string][]*Version // ascending by Number
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  map[string]*Version{},
		byDoc: map[string][]*Version{},
	}
}

func (s *InMemoryStore) Insert(_ context.Context, v *Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byDoc[v.DocumentID] {
		if existing.Number == v.Number {
			return ErrNumberConflict
		}
	}

	cp := *v
	s.byID[cp.ID] = &cp
	docs := append(s.byDoc[v.DocumentID], &cp)
	sort.Slice(docs, func(i, j int) bool { return docs[i].Number < docs[j].Number })
	s.byDoc[v.DocumentID] = docs
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.byID[id]
	if !ok {
		return nil, ErrVersionNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *InMemoryStore) ListByDocument(
	_ context.Context,
	documentID string,
	includeDeleted bool,
	limit, offset int,
) ([]*Version, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.byDoc[documentID]
	matched := make([]*Version, 0, len(docs))
	// descending by number
	for i := len(docs) - 1; i >= 0; i-- {
		v := docs[i]
		if !includeDeleted && v.Deleted() {
			continue
		}
		cp := *v
		matched = append(matched, &cp)
	}

	total := len(matched)
	if offset > 0 {
		if offset >= len(matched) {
			return []*Version{}, total, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (s *InMemoryStore) MaxNumber(_ context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.byDoc[documentID]
	if len(docs) == 0 {
		return 0, nil
	}
	return docs[len(docs)-1].Number, nil
}

func (s *InMemoryStore) Latest(_ context.Context, documentID string) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.byDoc[documentID]
	if len(docs) == 0 {
		return nil, ErrDocumentNotFound
	}
	for i := len(docs) - 1; i >= 0; i-- {
		if !docs[i].Deleted() {
			cp := *docs[i]
			return &cp, nil
		}
	}
	return nil, ErrVersionNotFound
}

func (s *InMemoryStore) SoftDelete(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byID[id]
	if !ok || v.DeletedAt != nil {
		return false, nil
	}
	t := at
	v.DeletedAt = &t
	return true, nil
}

var _ Store = (*InMemoryStore)(nil)
