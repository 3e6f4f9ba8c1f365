package vault

import (
	"context"
	"sync"

	"privpool-backend/internal/models"
	"privpool-backend/internal/repository"
)

// PendingStore relayed-withdrawal queue with its own guard, independent of
// the vault lock so polling never blocks wallet writes.
type PendingStore struct {
	mu   sync.Mutex
	repo repository.PendingWithdrawalRepository
}

func NewPendingStore(repo repository.PendingWithdrawalRepository) *PendingStore {
	return &PendingStore{repo: repo}
}

func (s *PendingStore) Add(ctx context.Context, w *models.PendingWithdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Upsert(ctx, w)
}

// Get returns nil when pendingID is unknown.
func (s *PendingStore) Get(ctx context.Context, pendingID string) (*models.PendingWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Get(ctx, pendingID)
}

// Modify applies fn to the stored record and writes it back when fn
// returns nil. It returns nil, nil for an unknown id.
func (s *PendingStore) Modify(ctx context.Context, pendingID string, fn func(w *models.PendingWithdrawal) error) (*models.PendingWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.repo.Get(ctx, pendingID)
	if err != nil || w == nil {
		return nil, err
	}
	if err := fn(w); err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *PendingStore) ListByChain(ctx context.Context, chainID int64) ([]models.PendingWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.ListByChain(ctx, chainID)
}

func (s *PendingStore) ListByStatus(ctx context.Context, statuses ...models.WithdrawalStatus) ([]models.PendingWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.ListByStatus(ctx, statuses...)
}

func (s *PendingStore) Remove(ctx context.Context, pendingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Delete(ctx, pendingID)
}
