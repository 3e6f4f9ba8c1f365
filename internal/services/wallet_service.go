package services

import (
	"context"
	"fmt"
	"strings"

	"privpool-backend/internal/note"
	"privpool-backend/internal/vault"

	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
)

// NetworkFactory dials and binds chainID; noteCounts are the persisted
// derivation indices of that network.
type NetworkFactory func(ctx context.Context, chainID int64, noteCounts map[string]uint32) (*Network, error)

// WalletService unlock, lock and network switching
type WalletService struct {
	vault       *vault.Vault
	keys        *KeyRing
	networks    *NetworkManager
	deposits    *DepositService
	withdrawals *WithdrawalService
	merkle      *MerkleService
	factory     NetworkFactory
	logger      *logrus.Entry
}

func NewWalletService(v *vault.Vault, keys *KeyRing, networks *NetworkManager, deposits *DepositService, withdrawals *WithdrawalService, merkle *MerkleService, factory NetworkFactory, logger *logrus.Entry) *WalletService {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	w := &WalletService{
		vault:       v,
		keys:        keys,
		networks:    networks,
		deposits:    deposits,
		withdrawals: withdrawals,
		merkle:      merkle,
		factory:     factory,
		logger:      logger,
	}
	networks.OnChange(func(prev, next *Network) {
		if prev != nil {
			merkle.Reset(prev.ChainID)
		}
		deposits.ResetGenerators()
	})
	return w
}

// CreateWallet creates the vault. An empty mnemonic generates a new one,
// which is returned so the user can back it up.
func (w *WalletService) CreateWallet(ctx context.Context, password, mnemonic string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	imported := strings.TrimSpace(mnemonic) != ""
	if !imported {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return "", err
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return "", err
		}
	}
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	rootKey, err := note.RootKeyFromMnemonic(mnemonic, "")
	if err != nil {
		return "", err
	}
	if err := w.vault.Create(ctx, password, mnemonic, imported); err != nil {
		return "", err
	}
	w.keys.Set(rootKey)
	return mnemonic, nil
}

// Unlock opens the vault and loads the root key.
func (w *WalletService) Unlock(ctx context.Context, password string) error {
	if err := w.vault.Unlock(ctx, password); err != nil {
		return err
	}
	state, err := w.vault.Retrieve()
	if err != nil {
		return err
	}
	rootKey, err := note.RootKeyFromMnemonic(state.Mnemonic, "")
	if err != nil {
		w.vault.Lock()
		return err
	}
	w.keys.Set(rootKey)

	if w.networks.ActiveChainID() != 0 {
		w.resumeBackground(ctx)
	}
	return nil
}

// Lock clears secrets and generator state; background polling notices and stops.
func (w *WalletService) Lock() {
	w.vault.Lock()
	w.keys.Clear()
	w.deposits.ResetGenerators()
}

func (w *WalletService) IsUnlocked() bool {
	return w.vault.IsUnlocked()
}

// SwitchNetwork activates chainID for the unlocked wallet.
func (w *WalletService) SwitchNetwork(ctx context.Context, chainID int64) (*Network, error) {
	state, err := w.vault.Retrieve()
	if err != nil {
		return nil, err
	}
	var counts map[string]uint32
	if ns, ok := state.Networks[chainID]; ok {
		counts = ns.NoteCounts
	}
	net, err := w.factory(ctx, chainID, counts)
	if err != nil {
		return nil, err
	}
	w.networks.Activate(net)
	w.logger.Infof("[Wallet] active network is now %d (%d pools)", chainID, len(net.Registry.Pairs()))

	w.resumeBackground(ctx)
	return net, nil
}

func (w *WalletService) resumeBackground(ctx context.Context) {
	if err := w.deposits.ReconcilePending(ctx); err != nil {
		w.logger.Warnf("[Wallet] deposit reconciliation failed: %v", err)
	}
	if err := w.withdrawals.Resume(ctx); err != nil {
		w.logger.Warnf("[Wallet] withdrawal resume failed: %v", err)
	}
}

// Import rebuilds the deposit list of the active network from the mnemonic.
func (w *WalletService) Import(ctx context.Context) error {
	return w.deposits.ImportNotes(ctx)
}
