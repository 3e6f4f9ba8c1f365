package repository

import (
	"context"
	"errors"

	"privpool-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormEventRepository implements EventRepository on postgres
type gormEventRepository struct {
	db *gorm.DB
}

// NewGormEventRepository creates an EventRepository backed by gorm.
func NewGormEventRepository(db *gorm.DB) EventRepository {
	return &gormEventRepository{db: db}
}

func (r *gormEventRepository) series(ctx context.Context, model interface{}, chainID int64, pair models.Pair) *gorm.DB {
	return r.db.WithContext(ctx).Model(model).
		Where("chain_id = ? AND currency = ? AND amount = ?", chainID, pair.Currency, pair.Amount)
}

func (r *gormEventRepository) AppendDeposits(ctx context.Context, chainID int64, pair models.Pair, events []models.DepositEvent) error {
	if len(events) == 0 {
		return nil
	}
	prepared := prepareDeposits(chainID, pair, events)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&prepared, 500).Error
}

func (r *gormEventRepository) AppendWithdrawals(ctx context.Context, chainID int64, pair models.Pair, events []models.WithdrawalEvent) error {
	if len(events) == 0 {
		return nil
	}
	prepared := prepareWithdrawals(chainID, pair, events)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&prepared, 500).Error
}

func (r *gormEventRepository) Truncate(ctx context.Context, chainID int64, pair models.Pair, kind models.EventKind) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model interface{} = &models.DepositEvent{}
		if kind == models.EventKindWithdrawal {
			model = &models.WithdrawalEvent{}
		}
		err := tx.Where("chain_id = ? AND currency = ? AND amount = ?", chainID, pair.Currency, pair.Amount).
			Delete(model).Error
		if err != nil {
			return err
		}
		return tx.Where("id = ?", CursorID(kind, chainID, pair)).Delete(&models.SyncCursor{}).Error
	})
}

func (r *gormEventRepository) GetLeavesUpTo(ctx context.Context, chainID int64, pair models.Pair, lastLeafIndex int) ([]models.DepositEvent, error) {
	var events []models.DepositEvent
	query := r.series(ctx, &models.DepositEvent{}, chainID, pair)
	if lastLeafIndex >= 0 {
		query = query.Where("leaf_index <= ?", lastLeafIndex)
	}
	if err := query.Order("leaf_index ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *gormEventRepository) GetLeavesAfter(ctx context.Context, chainID int64, pair models.Pair, afterLeafIndex int) ([]models.DepositEvent, error) {
	var events []models.DepositEvent
	err := r.series(ctx, &models.DepositEvent{}, chainID, pair).
		Where("leaf_index > ?", afterLeafIndex).
		Order("leaf_index ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *gormEventRepository) FindDepositByCommitment(ctx context.Context, chainID int64, pair models.Pair, commitmentHex string) (*models.DepositEvent, error) {
	var ev models.DepositEvent
	err := r.series(ctx, &models.DepositEvent{}, chainID, pair).
		Where("commitment_hex = ?", NormalizeHex(commitmentHex)).
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *gormEventRepository) IsSpent(ctx context.Context, chainID int64, pair models.Pair, nullifierHex string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.WithdrawalEvent{}).
		Where("id = ?", WithdrawalEventID(chainID, pair, nullifierHex)).
		Count(&count).Error
	return count > 0, err
}

func (r *gormEventRepository) CountEvents(ctx context.Context, kind models.EventKind, chainID int64, pair models.Pair) (int, error) {
	var model interface{} = &models.DepositEvent{}
	if kind == models.EventKindWithdrawal {
		model = &models.WithdrawalEvent{}
	}
	var count int64
	err := r.series(ctx, model, chainID, pair).Count(&count).Error
	return int(count), err
}

func (r *gormEventRepository) GetCursor(ctx context.Context, kind models.EventKind, chainID int64, pair models.Pair) (*models.SyncCursor, error) {
	var cursor models.SyncCursor
	err := r.db.WithContext(ctx).Where("id = ?", CursorID(kind, chainID, pair)).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (r *gormEventRepository) SaveCursor(ctx context.Context, cursor *models.SyncCursor) error {
	pair := models.Pair{Currency: cursor.Currency, Amount: cursor.Amount}
	cursor.ID = CursorID(cursor.Kind, cursor.ChainID, pair)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(cursor).Error
}

func (r *gormEventRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
