package store

import (
	"context"
	"sort"
	"sync"

	"clearfund/internal/obligation/models"
	id "clearfund/pkg/domain"
	"clearfund/pkg/platform/sentinel"
)

// InMemoryStore backs unit tests and local development. Copy-on-read keeps
// callers from mutating stored state without going through Update.
type InMemoryStore struct {
	mu          sync.RWMutex
	obligations map[id.ObligationID]*models.Obligation
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{obligations: make(map[id.ObligationID]*models.Obligation)}
}

func (s *InMemoryStore) Create(_ context.Context, o *models.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.obligations[o.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *o
	s.obligations[o.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, obligationID id.ObligationID) (*models.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.obligations[obligationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// Update applies an optimistic-concurrency write: the stored version must
// match the caller's snapshot, otherwise the update was lost to a concurrent
// writer and the caller must re-read and retry.
func (s *InMemoryStore) Update(_ context.Context, o *models.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.obligations[o.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != o.Version {
		return sentinel.ErrConflict
	}
	cp := *o
	cp.Version = o.Version + 1
	s.obligations[o.ID] = &cp
	o.Version = cp.Version
	return nil
}

func (s *InMemoryStore) ListByCase(_ context.Context, caseID id.CaseID, limit, offset int) ([]*models.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Obligation
	for _, o := range s.obligations {
		if o.CaseID == caseID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ListAllByCase returns every obligation for a case in creation order. Used by
// the balance calculator and the compliance scorer, which need the full set.
func (s *InMemoryStore) ListAllByCase(ctx context.Context, caseID id.CaseID) ([]*models.Obligation, error) {
	return s.ListByCase(ctx, caseID, 0, 0)
}
