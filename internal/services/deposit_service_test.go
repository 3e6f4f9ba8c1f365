package services

import (
	"errors"
	"testing"
	"time"

	"privpool-backend/internal/chain"
	"privpool-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForDepositStatus(t *testing.T, env *testEnv, id string, status models.DepositStatus) models.Deposit {
	t.Helper()
	require.Eventually(t, func() bool {
		return env.depositByID(t, id).Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return env.depositByID(t, id)
}

func TestDepositConfirms(t *testing.T) {
	env := newTestEnv(t)
	svc := env.depositService(t, &fakeConfirmer{})

	d, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusPending, d.Status)
	assert.Equal(t, uint32(0), d.DepositIndex)
	assert.Equal(t, env.note(0).CommitmentHex, d.CommitmentHex)

	sent := env.engine.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, env.binding.Proxy, sent[0].To)
	assert.Equal(t, "100000000000000000", sent[0].Value.String())
	expected, err := chain.PackDeposit(env.binding.Pool, d.CommitmentHex)
	require.NoError(t, err)
	assert.Equal(t, expected, sent[0].Data)

	confirmed := waitForDepositStatus(t, env, d.ID, models.DepositStatusConfirmed)
	require.NotNil(t, confirmed.Spent)
	assert.False(t, *confirmed.Spent)

	state, err := env.vault.Retrieve()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), state.Network(testChainID).NoteCounts[testPair.Key()])
}

func TestFailedDepositIndexIsReused(t *testing.T) {
	env := newTestEnv(t)
	env.engine.result = errors.New("execution reverted")
	svc := env.depositService(t, &fakeConfirmer{})

	first, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	waitForDepositStatus(t, env, first.ID, models.DepositStatusFailed)

	require.NoError(t, svc.DeleteFailedDeposit(env.ctx, first.ID))
	assert.ErrorIs(t, svc.DeleteFailedDeposit(env.ctx, first.ID), ErrDepositNotFound)

	env.engine.mu.Lock()
	env.engine.result = nil
	env.engine.mu.Unlock()

	second, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), second.DepositIndex)
	assert.Equal(t, first.CommitmentHex, second.CommitmentHex)
	waitForDepositStatus(t, env, second.ID, models.DepositStatusConfirmed)

	third, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), third.DepositIndex)
}

func TestReleasedIndexAlreadyOnChainIsNotResubmitted(t *testing.T) {
	env := newTestEnv(t)
	env.engine.result = errors.New("receipt lost")
	svc := env.depositService(t, &fakeConfirmer{})

	first, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	waitForDepositStatus(t, env, first.ID, models.DepositStatusFailed)
	require.NoError(t, svc.DeleteFailedDeposit(env.ctx, first.ID))

	env.engine.mu.Lock()
	env.engine.result = nil
	env.engine.mu.Unlock()
	env.indexer.addDeposit(first.CommitmentHex, 200)

	second, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), second.DepositIndex)
	assert.NotEqual(t, first.CommitmentHex, second.CommitmentHex)

	sent := env.engine.sent()
	require.Len(t, sent, 2)
	resubmit, err := chain.PackDeposit(env.binding.Pool, first.CommitmentHex)
	require.NoError(t, err)
	assert.NotEqual(t, resubmit, sent[1].Data)

	list, err := svc.ListDeposits()
	require.NoError(t, err)
	var recovered int
	for _, d := range list {
		if d.Recovered && d.DepositIndex == 0 {
			recovered++
			assert.Equal(t, models.DepositStatusConfirmed, d.Status)
		}
	}
	assert.Equal(t, 1, recovered)
}

func TestDepositConfirmsAcrossNetworkSwitch(t *testing.T) {
	env := newTestEnv(t)
	env.engine.hold = make(chan struct{})
	svc := env.depositService(t, &fakeConfirmer{})

	d, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)

	env.networks.Activate(&Network{ChainID: 5, Registry: env.net.Registry, Pools: env.pools, Logs: env.logs, Gas: fakeGas{}})
	close(env.engine.hold)

	confirmed := waitForDepositStatus(t, env, d.ID, models.DepositStatusConfirmed)
	require.NotNil(t, confirmed.Spent)
	assert.False(t, *confirmed.Spent)
}

func TestOnlyFailedDepositsCanBeDeleted(t *testing.T) {
	env := newTestEnv(t)
	env.engine.hold = make(chan struct{})
	t.Cleanup(func() { close(env.engine.hold) })
	svc := env.depositService(t, &fakeConfirmer{})

	d, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.DeleteFailedDeposit(env.ctx, d.ID), ErrDepositNotFailed)
}

func TestRejectedDepositDoesNotConsumeIndex(t *testing.T) {
	env := newTestEnv(t)
	env.engine.rejectOn = 1
	svc := env.depositService(t, &fakeConfirmer{})

	_, err := svc.Deposit(env.ctx, testPair)
	require.Error(t, err)

	d, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), d.DepositIndex)
}

func TestDepositSkipsAlreadyDepositedNotes(t *testing.T) {
	env := newTestEnv(t)
	env.indexer.addDeposit(env.note(0).CommitmentHex, 200)
	svc := env.depositService(t, &fakeConfirmer{})

	d, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), d.DepositIndex)

	list, err := svc.ListDeposits()
	require.NoError(t, err)
	require.Len(t, list, 2)
	var recovered *models.Deposit
	for i := range list {
		if list[i].Recovered {
			recovered = &list[i]
		}
	}
	require.NotNil(t, recovered)
	assert.Equal(t, uint32(0), recovered.DepositIndex)
	assert.Equal(t, models.DepositStatusConfirmed, recovered.Status)
}

func TestRefreshSpent(t *testing.T) {
	env := newTestEnv(t)
	svc := env.depositService(t, &fakeConfirmer{})

	d, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	waitForDepositStatus(t, env, d.ID, models.DepositStatusConfirmed)

	require.NoError(t, svc.RefreshSpent(env.ctx))
	dep := env.depositByID(t, d.ID)
	assert.False(t, dep.IsSpent())

	env.indexer.addWithdrawal(d.NullifierHex, 400)
	require.NoError(t, svc.RefreshSpent(env.ctx))
	dep = env.depositByID(t, d.ID)
	assert.True(t, dep.IsSpent())
}

func TestRefreshSpentLeavesFlagUnknownWhenSyncFails(t *testing.T) {
	env := newTestEnv(t)
	svc := env.depositService(t, &fakeConfirmer{})

	d, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	waitForDepositStatus(t, env, d.ID, models.DepositStatusConfirmed)

	env.indexer.mu.Lock()
	env.indexer.err = errors.New("indexer down")
	env.indexer.mu.Unlock()
	env.net.Logs = failingLogs{}

	require.NoError(t, svc.RefreshSpent(env.ctx))
	assert.Nil(t, env.depositByID(t, d.ID).Spent)
}

func TestImportNotes(t *testing.T) {
	env := newTestEnv(t)
	env.indexer.addDeposit(env.note(0).CommitmentHex, 200)
	env.indexer.addDeposit(randomCommitment(0), 201)
	env.indexer.addDeposit(env.note(2).CommitmentHex, 202)
	env.indexer.addWithdrawal(env.note(0).NullifierHex, 300)
	svc := env.depositService(t, &fakeConfirmer{})

	require.NoError(t, svc.ImportNotes(env.ctx))

	state, err := env.vault.Retrieve()
	require.NoError(t, err)
	ns := state.Network(testChainID)
	assert.True(t, ns.IsInitialized)
	assert.False(t, ns.IsLoading)
	assert.Empty(t, ns.ErrorsInitializing)
	assert.Equal(t, uint32(3), ns.NoteCounts[testPair.Key()])
	require.Len(t, ns.Deposits, 2)

	byIndex := map[uint32]models.Deposit{}
	for _, d := range ns.Deposits {
		byIndex[d.DepositIndex] = d
	}
	first := byIndex[0]
	assert.True(t, first.IsSpent())
	require.NotNil(t, byIndex[2].Spent)
	assert.False(t, *byIndex[2].Spent)

	// importing twice keeps one record per commitment
	require.NoError(t, svc.ImportNotes(env.ctx))
	state, err = env.vault.Retrieve()
	require.NoError(t, err)
	assert.Len(t, state.Network(testChainID).Deposits, 2)

	d, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), d.DepositIndex)
}

func TestImportNotesRecordsPairErrors(t *testing.T) {
	env := newTestEnv(t)
	env.indexer.err = errors.New("indexer down")
	env.net.Logs = failingLogs{}
	svc := env.depositService(t, &fakeConfirmer{})

	require.NoError(t, svc.ImportNotes(env.ctx))
	state, err := env.vault.Retrieve()
	require.NoError(t, err)
	ns := state.Network(testChainID)
	require.Len(t, ns.ErrorsInitializing, 1)
	assert.Contains(t, ns.ErrorsInitializing[0], testPair.Key())
	assert.True(t, ns.IsInitialized)
}
