// Package vault keeps the wallet state encrypted at rest and hands it out
// only while unlocked.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"privpool-backend/internal/models"
	"privpool-backend/internal/repository"

	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrVaultLocked     = errors.New("vault is locked")
	ErrVaultExists     = errors.New("vault already exists")
	ErrVaultNotFound   = errors.New("vault not found")
)

// Vault password-gated wallet state. All mutations go through WithLock or
// Update, which persist the re-encrypted blob before returning.
type Vault struct {
	mu       sync.Mutex
	repo     repository.VaultBlobRepository
	walletID string
	sealer   *sealer
	logger   *logrus.Entry

	state *models.VaultState
	key   *sessionKey
}

func New(repo repository.VaultBlobRepository, walletID string, scryptN int, logger *logrus.Entry) *Vault {
	if walletID == "" {
		walletID = "default"
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Vault{
		repo:     repo,
		walletID: walletID,
		sealer:   newSealer(scryptN),
		logger:   logger,
	}
}

// Exists reports whether a wallet was created.
func (v *Vault) Exists(ctx context.Context) (bool, error) {
	blob, err := v.repo.Load(ctx, v.walletID)
	if err != nil {
		return false, err
	}
	return blob != nil, nil
}

// Create initializes a new wallet and leaves it unlocked.
func (v *Vault) Create(ctx context.Context, password, mnemonic string, imported bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	blob, err := v.repo.Load(ctx, v.walletID)
	if err != nil {
		return fmt.Errorf("failed to load vault: %w", err)
	}
	if blob != nil {
		return ErrVaultExists
	}

	state := &models.VaultState{
		Mnemonic:   mnemonic,
		IsImported: imported,
		Networks:   make(map[int64]*models.NetworkState),
	}
	key, err := v.sealer.newKey([]byte(password))
	if err != nil {
		return fmt.Errorf("failed to derive vault key: %w", err)
	}
	if err := v.persist(ctx, state, key); err != nil {
		key.wipe()
		return err
	}
	v.state = state
	v.key = key
	v.logger.Infof("[Vault] wallet %s created (imported=%v)", v.walletID, imported)
	return nil
}

// Unlock decrypts the stored blob.
func (v *Vault) Unlock(ctx context.Context, password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	blob, err := v.repo.Load(ctx, v.walletID)
	if err != nil {
		return fmt.Errorf("failed to load vault: %w", err)
	}
	if blob == nil {
		return ErrVaultNotFound
	}
	plaintext, key, err := v.sealer.open(blob, []byte(password))
	if err != nil {
		return err
	}
	var state models.VaultState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		key.wipe()
		return fmt.Errorf("failed to decode vault: %w", err)
	}
	if state.Networks == nil {
		state.Networks = make(map[int64]*models.NetworkState)
	}
	v.key.wipe()
	v.state = &state
	v.key = key
	v.logger.Infof("[Vault] wallet %s unlocked", v.walletID)
	return nil
}

// Lock drops the decrypted state and the derived key from memory.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key.wipe()
	v.key = nil
	v.state = nil
	v.logger.Infof("[Vault] wallet %s locked", v.walletID)
}

func (v *Vault) IsUnlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state != nil
}

// Retrieve returns a deep copy of the state.
func (v *Vault) Retrieve() (*models.VaultState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == nil {
		return nil, ErrVaultLocked
	}
	return v.state.Clone(), nil
}

// Update replaces the whole state.
func (v *Vault) Update(ctx context.Context, state *models.VaultState) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == nil {
		return ErrVaultLocked
	}
	next := state.Clone()
	if err := v.persist(ctx, next, v.key); err != nil {
		return err
	}
	v.state = next
	return nil
}

// WithLock runs fn on a working copy while holding the vault guard. The copy
// is committed and persisted only when fn returns nil.
func (v *Vault) WithLock(ctx context.Context, fn func(state *models.VaultState) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == nil {
		return ErrVaultLocked
	}
	working := v.state.Clone()
	if err := fn(working); err != nil {
		return err
	}
	if err := v.persist(ctx, working, v.key); err != nil {
		return err
	}
	v.state = working
	return nil
}

func (v *Vault) persist(ctx context.Context, state *models.VaultState, key *sessionKey) error {
	plaintext, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode vault: %w", err)
	}
	sealed, err := v.sealer.seal(plaintext, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt vault: %w", err)
	}
	if err := v.repo.Save(ctx, v.walletID, sealed); err != nil {
		return fmt.Errorf("failed to save vault: %w", err)
	}
	return nil
}
