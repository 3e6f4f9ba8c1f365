package txengine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeBackend struct {
	mu       sync.Mutex
	nonce    uint64
	head     uint64
	sent     []*types.Transaction
	status   uint64
	sendErr  error
	gasPrice *big.Int
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if b.gasPrice == nil {
		return nil, errors.New("no gas oracle")
	}
	return b.gasPrice, nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 100000, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	b.nonce++
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tx := range b.sent {
		if tx.Hash() == hash {
			return &types.Receipt{Status: b.status, TxHash: hash, BlockNumber: big.NewInt(10)}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (b *fakeBackend) CodeAt(ctx context.Context, _ common.Address, _ *big.Int) ([]byte, error) {
	return nil, nil
}

func (b *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head++
	return b.head, nil
}

func newTestEngine(t *testing.T, backend *fakeBackend, confirmations uint64) *EthEngine {
	signer, err := NewPrivateKeySigner("0x" + testKey)
	require.NoError(t, err)
	e := NewEthEngine(Options{MineTimeout: 2 * time.Second, MaxWait: 2 * time.Second, PollInterval: 5 * time.Millisecond}, nil)
	e.RegisterChain(1, ChainConfig{Backend: backend, Signer: signer, Confirmations: confirmations})
	return e
}

func TestEngineConfirmsTransaction(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful, head: 5, gasPrice: big.NewInt(100)}
	e := newTestEngine(t, backend, 3)
	ctx := context.Background()

	meta, err := e.AddTransaction(ctx, TxParams{ChainID: 1, To: common.HexToAddress("0x01"), Value: big.NewInt(7), Origin: "test"})
	require.NoError(t, err)
	assert.Equal(t, TxStatusUnapproved, meta.Status)

	require.NoError(t, e.ApproveTransaction(ctx, meta.ID))
	assert.ErrorIs(t, e.ApproveTransaction(ctx, meta.ID), ErrAlreadyApproved)

	hash, err := e.WaitForTransactionResult(ctx, meta.ID, true)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, backend.sent[0].Hash(), hash)

	sent := backend.sent[0]
	assert.Equal(t, big.NewInt(120), sent.GasPrice())
	assert.Equal(t, uint64(120000), sent.Gas())
	assert.Equal(t, big.NewInt(7), sent.Value())

	got, ok := e.GetTransaction(meta.ID)
	require.True(t, ok)
	assert.Equal(t, TxStatusConfirmed, got.Status)
	assert.Equal(t, uint64(10), got.BlockNumber)
}

func TestEngineRevertedTransaction(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusFailed}
	e := newTestEngine(t, backend, 1)
	ctx := context.Background()

	meta, err := e.AddTransaction(ctx, TxParams{ChainID: 1, To: common.HexToAddress("0x01")})
	require.NoError(t, err)
	require.NoError(t, e.ApproveTransaction(ctx, meta.ID))

	_, err = e.WaitForTransactionResult(ctx, meta.ID, false)
	require.NoError(t, err)

	_, err = e.WaitForTransactionResult(ctx, meta.ID, true)
	assert.ErrorIs(t, err, ErrTxReverted)

	got, _ := e.GetTransaction(meta.ID)
	assert.Equal(t, TxStatusFailed, got.Status)
	// fallback gas price when the oracle fails
	assert.Equal(t, big.NewInt(fallbackGasPrice), backend.sent[0].GasPrice())
}

func TestEngineSendFailure(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("insufficient funds")}
	e := newTestEngine(t, backend, 1)
	ctx := context.Background()

	meta, err := e.AddTransaction(ctx, TxParams{ChainID: 1, To: common.HexToAddress("0x01")})
	require.NoError(t, err)
	assert.Error(t, e.ApproveTransaction(ctx, meta.ID))

	_, err = e.WaitForTransactionResult(ctx, meta.ID, true)
	assert.ErrorContains(t, err, "insufficient funds")
}

func TestEngineUnknownChainAndTx(t *testing.T) {
	e := newTestEngine(t, &fakeBackend{}, 1)
	_, err := e.AddTransaction(context.Background(), TxParams{ChainID: 5})
	assert.ErrorIs(t, err, ErrUnknownChain)

	_, err = e.WaitForTransactionResult(context.Background(), "missing", false)
	assert.ErrorIs(t, err, ErrTxNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	meta, err := e.AddTransaction(context.Background(), TxParams{ChainID: 1})
	require.NoError(t, err)
	_, err = e.WaitForTransactionResult(ctx, meta.ID, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func (e *EthEngine) tracked() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.txs)
}

func TestEnginePrunesDeliveredTransactions(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful, gasPrice: big.NewInt(100)}
	e := newTestEngine(t, backend, 1)
	ctx := context.Background()

	first, err := e.AddTransaction(ctx, TxParams{ChainID: 1, To: common.HexToAddress("0x01")})
	require.NoError(t, err)
	require.NoError(t, e.ApproveTransaction(ctx, first.ID))

	// submission alone is not terminal
	_, err = e.WaitForTransactionResult(ctx, first.ID, false)
	require.NoError(t, err)
	_, err = e.WaitForTransactionResult(ctx, first.ID, true)
	require.NoError(t, err)

	// still readable until the next transaction is added
	_, ok := e.GetTransaction(first.ID)
	assert.True(t, ok)

	second, err := e.AddTransaction(ctx, TxParams{ChainID: 1, To: common.HexToAddress("0x01")})
	require.NoError(t, err)
	_, ok = e.GetTransaction(first.ID)
	assert.False(t, ok)
	_, ok = e.GetTransaction(second.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, e.tracked())
}

func TestEngineKeepsUnreadFailures(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("nonce too low")}
	e := newTestEngine(t, backend, 1)
	ctx := context.Background()

	failed, err := e.AddTransaction(ctx, TxParams{ChainID: 1, To: common.HexToAddress("0x01")})
	require.NoError(t, err)
	require.Error(t, e.ApproveTransaction(ctx, failed.ID))

	_, err = e.AddTransaction(ctx, TxParams{ChainID: 1, To: common.HexToAddress("0x01")})
	require.NoError(t, err)
	_, ok := e.GetTransaction(failed.ID)
	assert.True(t, ok)

	// past retention it goes even unread
	e.mu.Lock()
	e.txs[failed.ID].meta.UpdatedAt = time.Now().Add(-2 * txRetention)
	e.mu.Unlock()
	_, err = e.AddTransaction(ctx, TxParams{ChainID: 1, To: common.HexToAddress("0x01")})
	require.NoError(t, err)
	_, ok = e.GetTransaction(failed.ID)
	assert.False(t, ok)
}
