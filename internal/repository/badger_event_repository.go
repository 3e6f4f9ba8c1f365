package repository

import (
	"context"
	"errors"

	"privpool-backend/internal/models"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

// upserts per badger transaction, keeps batches below the txn size limit
const badgerBatchSize = 500

type badgerEventRepository struct {
	store *badgerhold.Store
}

// NewBadgerEventRepository creates an EventRepository on top of a badgerhold store.
func NewBadgerEventRepository(store *badgerhold.Store) EventRepository {
	return &badgerEventRepository{store: store}
}

func seriesQuery(chainID int64, pair models.Pair) *badgerhold.Query {
	return badgerhold.Where("ChainID").Eq(chainID).
		And("Currency").Eq(pair.Currency).
		And("Amount").Eq(pair.Amount)
}

func (r *badgerEventRepository) AppendDeposits(ctx context.Context, chainID int64, pair models.Pair, events []models.DepositEvent) error {
	prepared := prepareDeposits(chainID, pair, events)
	for start := 0; start < len(prepared); start += badgerBatchSize {
		end := min(start+badgerBatchSize, len(prepared))
		err := r.store.Badger().Update(func(tx *badger.Txn) error {
			for i := start; i < end; i++ {
				if err := r.store.TxUpsert(tx, prepared[i].ID, prepared[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *badgerEventRepository) AppendWithdrawals(ctx context.Context, chainID int64, pair models.Pair, events []models.WithdrawalEvent) error {
	prepared := prepareWithdrawals(chainID, pair, events)
	for start := 0; start < len(prepared); start += badgerBatchSize {
		end := min(start+badgerBatchSize, len(prepared))
		err := r.store.Badger().Update(func(tx *badger.Txn) error {
			for i := start; i < end; i++ {
				if err := r.store.TxUpsert(tx, prepared[i].ID, prepared[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *badgerEventRepository) Truncate(ctx context.Context, chainID int64, pair models.Pair, kind models.EventKind) error {
	var err error
	switch kind {
	case models.EventKindDeposit:
		err = r.store.DeleteMatching(&models.DepositEvent{}, seriesQuery(chainID, pair))
	case models.EventKindWithdrawal:
		err = r.store.DeleteMatching(&models.WithdrawalEvent{}, seriesQuery(chainID, pair))
	}
	if err != nil {
		return err
	}
	err = r.store.Delete(CursorID(kind, chainID, pair), &models.SyncCursor{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return err
	}
	return nil
}

func (r *badgerEventRepository) GetLeavesUpTo(ctx context.Context, chainID int64, pair models.Pair, lastLeafIndex int) ([]models.DepositEvent, error) {
	query := seriesQuery(chainID, pair)
	if lastLeafIndex >= 0 {
		query = query.And("LeafIndex").Le(uint32(lastLeafIndex))
	}
	var events []models.DepositEvent
	if err := r.store.Find(&events, query.SortBy("LeafIndex")); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *badgerEventRepository) GetLeavesAfter(ctx context.Context, chainID int64, pair models.Pair, afterLeafIndex int) ([]models.DepositEvent, error) {
	query := seriesQuery(chainID, pair)
	if afterLeafIndex >= 0 {
		query = query.And("LeafIndex").Gt(uint32(afterLeafIndex))
	}
	var events []models.DepositEvent
	if err := r.store.Find(&events, query.SortBy("LeafIndex")); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *badgerEventRepository) FindDepositByCommitment(ctx context.Context, chainID int64, pair models.Pair, commitmentHex string) (*models.DepositEvent, error) {
	var events []models.DepositEvent
	query := seriesQuery(chainID, pair).And("CommitmentHex").Eq(NormalizeHex(commitmentHex))
	if err := r.store.Find(&events, query.Limit(1)); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r *badgerEventRepository) IsSpent(ctx context.Context, chainID int64, pair models.Pair, nullifierHex string) (bool, error) {
	var ev models.WithdrawalEvent
	err := r.store.Get(WithdrawalEventID(chainID, pair, nullifierHex), &ev)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *badgerEventRepository) CountEvents(ctx context.Context, kind models.EventKind, chainID int64, pair models.Pair) (int, error) {
	var dataType interface{} = &models.DepositEvent{}
	if kind == models.EventKindWithdrawal {
		dataType = &models.WithdrawalEvent{}
	}
	n, err := r.store.Count(dataType, seriesQuery(chainID, pair))
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *badgerEventRepository) GetCursor(ctx context.Context, kind models.EventKind, chainID int64, pair models.Pair) (*models.SyncCursor, error) {
	var cursor models.SyncCursor
	err := r.store.Get(CursorID(kind, chainID, pair), &cursor)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (r *badgerEventRepository) SaveCursor(ctx context.Context, cursor *models.SyncCursor) error {
	pair := models.Pair{Currency: cursor.Currency, Amount: cursor.Amount}
	cursor.ID = CursorID(cursor.Kind, cursor.ChainID, pair)
	return r.store.Upsert(cursor.ID, cursor)
}

func (r *badgerEventRepository) Close() error {
	return r.store.Close()
}
