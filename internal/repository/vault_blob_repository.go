package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timshannon/badgerhold/v4"
)

// VaultBlob encrypted wallet vault as persisted
type VaultBlob struct {
	WalletID  string
	Data      []byte
	UpdatedAt time.Time
}

// VaultBlobRepository stores one encrypted blob per wallet.
type VaultBlobRepository interface {
	Save(ctx context.Context, walletID string, data []byte) error
	// Load returns nil data when no vault exists yet.
	Load(ctx context.Context, walletID string) ([]byte, error)
}

type badgerVaultBlobRepository struct {
	store *badgerhold.Store
}

func NewVaultBlobRepository(store *badgerhold.Store) VaultBlobRepository {
	return &badgerVaultBlobRepository{store: store}
}

func (r *badgerVaultBlobRepository) Save(ctx context.Context, walletID string, data []byte) error {
	return r.store.Upsert(walletID, VaultBlob{
		WalletID:  walletID,
		Data:      data,
		UpdatedAt: time.Now(),
	})
}

func (r *badgerVaultBlobRepository) Load(ctx context.Context, walletID string) ([]byte, error) {
	var blob VaultBlob
	err := r.store.Get(walletID, &blob)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob.Data, nil
}
