package services

import (
	"context"
	"testing"

	"privpool-backend/internal/repository"
	"privpool-backend/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
)

func (e *testEnv) walletService(t *testing.T, v *vault.Vault, factory NetworkFactory) *WalletService {
	deposits := e.depositService(t, &fakeConfirmer{})
	withdrawals := e.withdrawalService(t, newFakeRelayer(), &fakeConfirmer{})
	return NewWalletService(v, e.keys, e.networks, deposits, withdrawals, e.merkle, factory, testLogger())
}

func TestCreateWalletGeneratesMnemonic(t *testing.T) {
	env := newTestEnv(t)
	store, err := repository.OpenBadgerStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	v := vault.New(repository.NewVaultBlobRepository(store), "fresh", 1<<10, testLogger())
	env.keys.Clear()
	w := env.walletService(t, v, nil)

	_, err = w.CreateWallet(env.ctx, "short", "")
	assert.Error(t, err)

	mnemonic, err := w.CreateWallet(env.ctx, testPassword, "")
	require.NoError(t, err)
	assert.True(t, bip39.IsMnemonicValid(mnemonic))
	assert.True(t, w.IsUnlocked())
	_, err = env.keys.RootKey()
	assert.NoError(t, err)

	_, err = w.CreateWallet(env.ctx, testPassword, "")
	assert.ErrorIs(t, err, vault.ErrVaultExists)
}

func TestLockAndUnlock(t *testing.T) {
	env := newTestEnv(t)
	w := env.walletService(t, env.vault, nil)

	w.Lock()
	assert.False(t, w.IsUnlocked())
	_, err := env.keys.RootKey()
	assert.ErrorIs(t, err, vault.ErrVaultLocked)

	assert.ErrorIs(t, w.Unlock(env.ctx, "wrong password"), vault.ErrInvalidPassword)
	require.NoError(t, w.Unlock(env.ctx, testPassword))
	key, err := env.keys.RootKey()
	require.NoError(t, err)
	assert.Equal(t, env.rootKey, key)
}

func TestSwitchNetworkResetsCachedState(t *testing.T) {
	env := newTestEnv(t)
	env.indexer.addDeposit(randomCommitment(0), 200)
	_, err := env.merkle.GetRoot(env.ctx, env.net, env.binding, false)
	require.NoError(t, err)

	var requested int64
	factory := func(ctx context.Context, chainID int64, counts map[string]uint32) (*Network, error) {
		requested = chainID
		next := *env.net
		next.ChainID = chainID
		return &next, nil
	}
	w := env.walletService(t, env.vault, factory)

	net, err := w.SwitchNetwork(env.ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), requested)
	assert.Equal(t, int64(5), net.ChainID)
	assert.True(t, env.networks.IsActive(5))
	assert.False(t, env.networks.IsActive(testChainID))
}
