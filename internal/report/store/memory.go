package store

import (
	"context"
	"sort"
	"sync"

	"clearfund/internal/report/models"
	id "clearfund/pkg/domain"
	"clearfund/pkg/platform/sentinel"
)

// InMemoryStore holds reports for unit tests and local development.
type InMemoryStore struct {
	mu       sync.RWMutex
	byID     map[id.ReportID]*models.Report
	byNumber map[string]id.ReportID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[id.ReportID]*models.Report),
		byNumber: make(map[string]id.ReportID),
	}
}

// Create persists a report. Duplicate report numbers return ErrConflict so
// the generator can retry with a fresh suffix.
func (s *InMemoryStore) Create(_ context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[r.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byNumber[r.ReportNumber]; exists {
		return sentinel.ErrConflict
	}
	cp := *r
	s.byID[r.ID] = &cp
	s.byNumber[r.ReportNumber] = r.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, reportID id.ReportID) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[reportID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *InMemoryStore) FindByNumber(_ context.Context, number string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reportID, ok := s.byNumber[number]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.byID[reportID]
	return &cp, nil
}

// ListByCase returns a case's reports newest first.
func (s *InMemoryStore) ListByCase(_ context.Context, caseID id.CaseID) ([]*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Report
	for _, r := range s.byID {
		if r.CaseID == caseID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.After(out[j].GeneratedAt)
		}
		return out[i].ReportNumber > out[j].ReportNumber
	})
	return out, nil
}

// IncrementDownload bumps the download counter and returns the new value.
// The counter is the only mutable field on a report.
func (s *InMemoryStore) IncrementDownload(_ context.Context, reportID id.ReportID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[reportID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	r.DownloadCount++
	return r.DownloadCount, nil
}
