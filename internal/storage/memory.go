package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/callscope/internal/models"
)

type MemoryStorage struct {
	mu              sync.RWMutex
	calls           map[string]models.CallRecord
	classifications map[string]models.ClassificationResult
	outcomes        map[string]models.ValidationOutcome
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		calls:           make(map[string]models.CallRecord),
		classifications: make(map[string]models.ClassificationResult),
		outcomes:        make(map[string]models.ValidationOutcome),
	}
}

func (s *MemoryStorage) SaveCall(ctx context.Context, call models.CallRecord) error {
	if call.CallID == "" {
		return fmt.Errorf("save call: empty call id")
	}
	call.OccurredAt = call.OccurredAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.CallID] = call
	return nil
}

func (s *MemoryStorage) GetCall(ctx context.Context, callID string) (*models.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	call, ok := s.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return &call, nil
}

func (s *MemoryStorage) SaveClassification(ctx context.Context, res models.ClassificationResult) error {
	if res.CallID == "" {
		return fmt.Errorf("save classification: empty call id")
	}
	res = normalizeClassification(res)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifications[res.CallID] = res
	return nil
}

func (s *MemoryStorage) GetClassification(ctx context.Context, callID string) (*models.ClassificationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.classifications[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return &res, nil
}

func (s *MemoryStorage) CallsInRange(ctx context.Context, from, to time.Time) ([]models.CallView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]models.CallView, 0)
	for _, call := range s.calls {
		if call.OccurredAt.Before(from) || !call.OccurredAt.Before(to) {
			continue
		}
		view := models.CallView{Call: call}
		if res, ok := s.classifications[call.CallID]; ok {
			view.Classification = &res
		}
		if out, ok := s.outcomes[call.CallID]; ok {
			out.Validated = copyBool(out.Validated)
			view.Outcome = &out
		}
		views = append(views, view)
	}

	sort.Slice(views, func(i, j int) bool {
		a, b := views[i].Call, views[j].Call
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		return a.CallID < b.CallID
	})
	return views, nil
}

func (s *MemoryStorage) RecordValidation(ctx context.Context, outcome models.ValidationOutcome) (bool, error) {
	if outcome.Validated == nil {
		return false, ErrUnchecked
	}
	outcome.Validated = copyBool(outcome.Validated)
	outcome.CheckedAt = outcome.CheckedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.outcomes[outcome.CallID]; exists {
		return false, nil
	}
	s.outcomes[outcome.CallID] = outcome
	return true, nil
}

func (s *MemoryStorage) GetValidation(ctx context.Context, callID string) (*models.ValidationOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, ok := s.outcomes[callID]
	if !ok {
		return nil, ErrNotFound
	}
	out.Validated = copyBool(out.Validated)
	return &out, nil
}

func (s *MemoryStorage) ResetValidation(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outcomes[callID]; !ok {
		return ErrNotFound
	}
	delete(s.outcomes, callID)
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
