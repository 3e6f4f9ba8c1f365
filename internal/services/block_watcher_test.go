package services

import (
	"strings"
	"testing"
	"time"

	"privpool-backend/internal/clients"
	"privpool-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickSyncsAndMarksSpent(t *testing.T) {
	env := newTestEnv(t)
	svc := env.depositService(t, &fakeConfirmer{})

	d, err := svc.Deposit(env.ctx, testPair)
	require.NoError(t, err)
	waitForDepositStatus(t, env, d.ID, models.DepositStatusConfirmed)

	env.indexer.addDeposit(randomCommitment(1), 210)
	env.indexer.addWithdrawal(d.NullifierHex, 400)

	watcher := NewBlockWatcher(env.networks, env.vault.IsUnlocked, env.sync, svc, nil, time.Hour, testLogger())
	watcher.Tick(env.ctx)

	count, err := env.repo.CountEvents(env.ctx, models.EventKindDeposit, testChainID, testPair)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	dep := env.depositByID(t, d.ID)
	assert.True(t, dep.IsSpent())
}

func TestTickIdleWhileLocked(t *testing.T) {
	env := newTestEnv(t)
	svc := env.depositService(t, &fakeConfirmer{})
	env.indexer.addDeposit(randomCommitment(1), 210)

	watcher := NewBlockWatcher(env.networks, func() bool { return false }, env.sync, svc, nil, time.Hour, testLogger())
	watcher.Tick(env.ctx)

	count, err := env.repo.CountEvents(env.ctx, models.EventKindDeposit, testChainID, testPair)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWatcherStartStop(t *testing.T) {
	env := newTestEnv(t)
	svc := env.depositService(t, &fakeConfirmer{})
	watcher := NewBlockWatcher(env.networks, env.vault.IsUnlocked, env.sync, svc, nil, 10*time.Millisecond, testLogger())

	watcher.Start()
	watcher.Start()
	env.indexer.addDeposit(randomCommitment(1), 210)
	require.Eventually(t, func() bool {
		count, err := env.repo.CountEvents(env.ctx, models.EventKindDeposit, testChainID, testPair)
		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)
	watcher.Stop()
	watcher.Stop()
}

func TestTickResumesWithdrawalPolling(t *testing.T) {
	env := newTestEnv(t)
	deposits := env.depositService(t, &fakeConfirmer{})
	relayer := newFakeRelayer()
	withdrawals := env.withdrawalService(t, relayer, &fakeConfirmer{})
	require.NoError(t, env.pending.Add(env.ctx, submittedWithdrawal("w1")))
	relayer.setJob(clients.JobStatusConfirmed, "0x"+strings.Repeat("ab", 32), "")

	watcher := NewBlockWatcher(env.networks, env.vault.IsUnlocked, env.sync, deposits, withdrawals, time.Hour, testLogger())
	watcher.Tick(env.ctx)

	waitForWithdrawalStatus(t, withdrawals, "w1", models.WithdrawalStatusConfirmed)
}
