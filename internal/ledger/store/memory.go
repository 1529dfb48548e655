package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"clearfund/internal/ledger/models"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/platform/sentinel"
)

// InMemoryStore is the append-only ledger for unit tests and local
// development. A single store mutex serializes appends, which trivially
// satisfies the single-writer-per-pair requirement.
type InMemoryStore struct {
	mu          sync.RWMutex
	entries     map[id.CaseID][]*models.Entry
	tails       map[id.CaseID]map[models.PairKey]*models.Entry
	frozen      map[id.CaseID]string
	lastCreated map[id.CaseID]time.Time
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		entries:     make(map[id.CaseID][]*models.Entry),
		tails:       make(map[id.CaseID]map[models.PairKey]*models.Entry),
		frozen:      make(map[id.CaseID]string),
		lastCreated: make(map[id.CaseID]time.Time),
	}
}

// Append computes the running balance from the pair's current tail and
// persists the entry. Entries effective before the pair's tail are rejected:
// a backdated movement would make stored running balances unreproducible by
// replay, so corrections go through adjustment entries at the current date.
func (s *InMemoryStore) Append(_ context.Context, e *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, isFrozen := s.frozen[e.CaseID]; isFrozen {
		return sentinel.ErrFrozen
	}

	pair := e.Pair()
	tailsByPair := s.tails[e.CaseID]
	if tailsByPair == nil {
		tailsByPair = make(map[models.PairKey]*models.Entry)
		s.tails[e.CaseID] = tailsByPair
	}

	prev := decimal.Zero
	if tail, ok := tailsByPair[pair]; ok {
		if e.EffectiveDate.Before(tail.EffectiveDate) {
			return dErrors.New(dErrors.CodeValidation,
				"effective date precedes the pair's latest entry; record an adjustment instead")
		}
		prev = tail.RunningBalance
	}

	// Replay order ties on (effective_date, created_at); created_at must be
	// strictly increasing within a case so replay reproduces append order.
	if last, ok := s.lastCreated[e.CaseID]; ok && !e.CreatedAt.After(last) {
		e.CreatedAt = last.Add(time.Nanosecond)
	}
	s.lastCreated[e.CaseID] = e.CreatedAt

	cp := *e
	cp.RunningBalance = prev.Add(cp.Amount)
	s.entries[e.CaseID] = append(s.entries[e.CaseID], &cp)
	tailsByPair[pair] = &cp
	e.RunningBalance = cp.RunningBalance
	return nil
}

// FindByID returns a single entry scoped to its case.
func (s *InMemoryStore) FindByID(_ context.Context, caseID id.CaseID, entryID id.EntryID) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries[caseID] {
		if e.ID == entryID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListByCase returns entries in replay order: (effective_date, created_at, id).
func (s *InMemoryStore) ListByCase(_ context.Context, caseID id.CaseID, limit, offset int) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Entry, 0, len(s.entries[caseID]))
	for _, e := range s.entries[caseID] {
		cp := *e
		out = append(out, &cp)
	}
	sortReplayOrder(out)

	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ListByCaseRange returns entries whose effective date falls in [start, end],
// in replay order.
func (s *InMemoryStore) ListByCaseRange(_ context.Context, caseID id.CaseID, start, end time.Time) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Entry
	for _, e := range s.entries[caseID] {
		if e.EffectiveDate.Before(start) || e.EffectiveDate.After(end) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sortReplayOrder(out)
	return out, nil
}

// LatestBalances returns the tail running balance per (obligor, obligee) pair.
// This is the incremental path: it trusts stored running balances.
func (s *InMemoryStore) LatestBalances(_ context.Context, caseID id.CaseID) (map[models.PairKey]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.PairKey]decimal.Decimal, len(s.tails[caseID]))
	for pair, tail := range s.tails[caseID] {
		out[pair] = tail.RunningBalance
	}
	return out, nil
}

// ListCaseIDs returns every case that has at least one entry.
func (s *InMemoryStore) ListCaseIDs(_ context.Context) ([]id.CaseID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]id.CaseID, 0, len(s.entries))
	for caseID := range s.entries {
		out = append(out, caseID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// Freeze pauses writes for a case pending integrity resolution.
func (s *InMemoryStore) Freeze(_ context.Context, caseID id.CaseID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen[caseID] = reason
	return nil
}

// IsFrozen reports whether writes for the case are paused.
func (s *InMemoryStore) IsFrozen(_ context.Context, caseID id.CaseID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, isFrozen := s.frozen[caseID]
	return isFrozen, nil
}

// Corrupt overwrites a stored running balance in place. Test hook for
// exercising integrity divergence detection; no production path reaches it.
func (s *InMemoryStore) Corrupt(caseID id.CaseID, index int, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.entries[caseID]
	sortReplayOrder(entries)
	if index >= 0 && index < len(entries) {
		entries[index].RunningBalance = balance
	}
}

func sortReplayOrder(entries []*models.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.Before(b.EffectiveDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
