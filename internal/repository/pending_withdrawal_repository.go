package repository

import (
	"context"
	"errors"
	"sort"

	"privpool-backend/internal/models"

	"github.com/timshannon/badgerhold/v4"
)

// PendingWithdrawalRepository persisted relayed-withdrawal queue
type PendingWithdrawalRepository interface {
	Upsert(ctx context.Context, w *models.PendingWithdrawal) error
	Get(ctx context.Context, pendingID string) (*models.PendingWithdrawal, error)
	ListByChain(ctx context.Context, chainID int64) ([]models.PendingWithdrawal, error)
	ListByStatus(ctx context.Context, statuses ...models.WithdrawalStatus) ([]models.PendingWithdrawal, error)
	Delete(ctx context.Context, pendingID string) error
}

type badgerPendingWithdrawalRepository struct {
	store *badgerhold.Store
}

func NewPendingWithdrawalRepository(store *badgerhold.Store) PendingWithdrawalRepository {
	return &badgerPendingWithdrawalRepository{store: store}
}

func (r *badgerPendingWithdrawalRepository) Upsert(ctx context.Context, w *models.PendingWithdrawal) error {
	return r.store.Upsert(w.PendingID, *w)
}

// Get returns nil when the withdrawal does not exist.
func (r *badgerPendingWithdrawalRepository) Get(ctx context.Context, pendingID string) (*models.PendingWithdrawal, error) {
	var w models.PendingWithdrawal
	err := r.store.Get(pendingID, &w)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *badgerPendingWithdrawalRepository) ListByChain(ctx context.Context, chainID int64) ([]models.PendingWithdrawal, error) {
	var list []models.PendingWithdrawal
	if err := r.store.Find(&list, badgerhold.Where("ChainID").Eq(chainID)); err != nil {
		return nil, err
	}
	sortByTime(list)
	return list, nil
}

func (r *badgerPendingWithdrawalRepository) ListByStatus(ctx context.Context, statuses ...models.WithdrawalStatus) ([]models.PendingWithdrawal, error) {
	values := make([]interface{}, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, s)
	}
	var list []models.PendingWithdrawal
	if err := r.store.Find(&list, badgerhold.Where("Status").In(values...)); err != nil {
		return nil, err
	}
	sortByTime(list)
	return list, nil
}

func sortByTime(list []models.PendingWithdrawal) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Time.Before(list[j].Time)
	})
}

func (r *badgerPendingWithdrawalRepository) Delete(ctx context.Context, pendingID string) error {
	err := r.store.Delete(pendingID, &models.PendingWithdrawal{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	return err
}
