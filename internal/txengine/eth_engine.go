package txengine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultGasLimit     uint64 = 600000
	fallbackGasPrice    int64  = 5000000000 // 5 Gwei
	gasPriceBumpPercent int64  = 120
)

// Backend node access needed to send and follow transactions; satisfied by
// *ethclient.Client.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ChainConfig per-chain engine settings
type ChainConfig struct {
	Backend       Backend
	Signer        Signer
	Confirmations uint64
	GasLimit      uint64 // used when estimation fails
}

// Options timing knobs, zero values pick the defaults
type Options struct {
	MineTimeout  time.Duration // first WaitMined window
	MaxWait      time.Duration // total time allowed for a receipt
	PollInterval time.Duration // receipt and confirmation polling
}

type chainEntry struct {
	cfg ChainConfig
	mu  sync.Mutex // serializes nonce allocation and broadcast
}

type trackedTx struct {
	meta      TxMeta
	submitted chan struct{}
	done      chan struct{}
	sendErr   error
	result    error
	delivered bool // terminal result handed to a waiter
}

// retention of terminal transactions nobody waited for
const txRetention = time.Hour

// EthEngine go-ethereum implementation of Engine
type EthEngine struct {
	mu     sync.RWMutex
	chains map[int64]*chainEntry
	txs    map[string]*trackedTx
	opts   Options
	logger *logrus.Entry
}

func NewEthEngine(opts Options, logger *logrus.Entry) *EthEngine {
	if opts.MineTimeout <= 0 {
		opts.MineTimeout = 30 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 10 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &EthEngine{
		chains: make(map[int64]*chainEntry),
		txs:    make(map[string]*trackedTx),
		opts:   opts,
		logger: logger,
	}
}

// RegisterChain installs (or replaces) the backend and signer of chainID.
func (e *EthEngine) RegisterChain(chainID int64, cfg ChainConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chains[chainID] = &chainEntry{cfg: cfg}
	e.logger.Infof("[TxEngine] chain %d registered, signer %s (%s)", chainID, cfg.Signer.Address().Hex(), cfg.Signer.Name())
}

// SignerAddress account used on chainID.
func (e *EthEngine) SignerAddress(chainID int64) (common.Address, error) {
	entry, err := e.chain(chainID)
	if err != nil {
		return common.Address{}, err
	}
	return entry.cfg.Signer.Address(), nil
}

func (e *EthEngine) chain(chainID int64) (*chainEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownChain, chainID)
	}
	return entry, nil
}

func (e *EthEngine) AddTransaction(ctx context.Context, params TxParams) (*TxMeta, error) {
	if _, err := e.chain(params.ChainID); err != nil {
		return nil, err
	}
	if params.Value == nil {
		params.Value = big.NewInt(0)
	}
	now := time.Now()
	t := &trackedTx{
		meta: TxMeta{
			ID:        uuid.New().String(),
			Params:    params,
			Status:    TxStatusUnapproved,
			CreatedAt: now,
			UpdatedAt: now,
		},
		submitted: make(chan struct{}),
		done:      make(chan struct{}),
	}
	e.mu.Lock()
	e.pruneLocked(now)
	e.txs[t.meta.ID] = t
	e.mu.Unlock()

	meta := t.meta
	return &meta, nil
}

// ApproveTransaction signs and broadcasts the transaction, then follows it
// in the background.
func (e *EthEngine) ApproveTransaction(ctx context.Context, id string) error {
	e.mu.Lock()
	t, ok := e.txs[id]
	if !ok {
		e.mu.Unlock()
		return ErrTxNotFound
	}
	if t.meta.Status != TxStatusUnapproved {
		e.mu.Unlock()
		return ErrAlreadyApproved
	}
	t.meta.Status = TxStatusSubmitted
	params := t.meta.Params
	e.mu.Unlock()

	entry, err := e.chain(params.ChainID)
	if err != nil {
		e.finishSend(t, common.Hash{}, err)
		return err
	}

	signed, err := e.send(ctx, entry, params)
	if err != nil {
		e.logger.Errorf("[TxEngine] %s tx %s failed to broadcast: %v", params.Origin, id, err)
		e.finishSend(t, common.Hash{}, err)
		return err
	}
	e.logger.Infof("[TxEngine] %s tx %s broadcast on chain %d: %s", params.Origin, id, params.ChainID, signed.Hash().Hex())
	e.finishSend(t, signed.Hash(), nil)

	go e.follow(t, entry, signed)
	return nil
}

func (e *EthEngine) send(ctx context.Context, entry *chainEntry, params TxParams) (*types.Transaction, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	backend := entry.cfg.Backend
	from := entry.cfg.Signer.Address()

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice := big.NewInt(fallbackGasPrice)
	if suggested, err := backend.SuggestGasPrice(ctx); err == nil {
		gasPrice = new(big.Int).Mul(suggested, big.NewInt(gasPriceBumpPercent))
		gasPrice.Div(gasPrice, big.NewInt(100))
	} else {
		e.logger.Warnf("[TxEngine] gas price suggestion failed, using 5 gwei: %v", err)
	}

	gasLimit := params.GasLimit
	if gasLimit == 0 {
		to := params.To
		estimated, err := backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &to,
			Value: params.Value,
			Data:  params.Data,
		})
		switch {
		case err == nil:
			gasLimit = estimated * uint64(gasPriceBumpPercent) / 100
		case entry.cfg.GasLimit > 0:
			gasLimit = entry.cfg.GasLimit
		default:
			gasLimit = defaultGasLimit
		}
	}

	to := params.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    params.Value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     params.Data,
	})

	signed, err := entry.cfg.Signer.SignTx(tx, big.NewInt(params.ChainID))
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed, nil
}

func (e *EthEngine) finishSend(t *trackedTx, hash common.Hash, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t.meta.Hash = hash
	t.meta.UpdatedAt = time.Now()
	if err != nil {
		t.meta.Status = TxStatusFailed
		t.meta.Error = err.Error()
		t.sendErr = err
		t.result = err
		close(t.submitted)
		close(t.done)
		return
	}
	close(t.submitted)
}

func (e *EthEngine) follow(t *trackedTx, entry *chainEntry, tx *types.Transaction) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.MaxWait+e.opts.MineTimeout)
	defer cancel()

	receipt, err := e.waitConfirmed(ctx, entry, tx, tx.Hash())

	e.mu.Lock()
	defer e.mu.Unlock()
	t.meta.UpdatedAt = time.Now()
	if receipt != nil && receipt.BlockNumber != nil {
		t.meta.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if err != nil {
		t.meta.Status = TxStatusFailed
		t.meta.Error = err.Error()
		t.result = err
		e.logger.Warnf("[TxEngine] tx %s failed: %v", tx.Hash().Hex(), err)
	} else {
		t.meta.Status = TxStatusConfirmed
		e.logger.Infof("[TxEngine] tx %s confirmed in block %d", tx.Hash().Hex(), t.meta.BlockNumber)
	}
	close(t.done)
}

// WaitForConfirmations follows any transaction hash on chainID until it has
// the configured confirmations. Reverted transactions return ErrTxReverted.
func (e *EthEngine) WaitForConfirmations(ctx context.Context, chainID int64, hash common.Hash) (*types.Receipt, error) {
	entry, err := e.chain(chainID)
	if err != nil {
		return nil, err
	}
	return e.waitConfirmed(ctx, entry, nil, hash)
}

func (e *EthEngine) waitConfirmed(ctx context.Context, entry *chainEntry, tx *types.Transaction, hash common.Hash) (*types.Receipt, error) {
	receipt, err := e.waitForReceipt(ctx, entry.cfg.Backend, tx, hash)
	if err != nil {
		return nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, ErrTxReverted
	}
	if err := e.waitForDepth(ctx, entry.cfg.Backend, receipt, entry.cfg.Confirmations); err != nil {
		return receipt, err
	}
	return receipt, nil
}

// waitForReceipt: WaitMined for a short window when the transaction is
// known, then receipt polling until MaxWait, then one last query.
func (e *EthEngine) waitForReceipt(ctx context.Context, backend Backend, tx *types.Transaction, hash common.Hash) (*types.Receipt, error) {
	start := time.Now()

	if tx != nil {
		mineCtx, cancel := context.WithTimeout(ctx, e.opts.MineTimeout)
		receipt, err := bind.WaitMined(mineCtx, backend, tx)
		cancel()
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Debugf("[TxEngine] %s not mined within %v, polling: %v", hash.Hex(), e.opts.MineTimeout, err)
	}

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	deadline := start.Add(e.opts.MaxWait)
	for time.Now().Before(deadline) {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	receipt, err := backend.TransactionReceipt(ctx, hash)
	if err == nil && receipt != nil {
		return receipt, nil
	}
	return nil, fmt.Errorf("transaction confirmation timeout after %v, last error: %v", time.Since(start), err)
}

func (e *EthEngine) waitForDepth(ctx context.Context, backend Backend, receipt *types.Receipt, confirmations uint64) error {
	if confirmations <= 1 || receipt.BlockNumber == nil {
		return nil
	}
	target := receipt.BlockNumber.Uint64() + confirmations - 1
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		head, err := backend.BlockNumber(ctx)
		if err == nil && head >= target {
			return nil
		}
		if err != nil {
			e.logger.Debugf("[TxEngine] block number query failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d confirmations: %w", confirmations, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *EthEngine) WaitForTransactionResult(ctx context.Context, id string, waitForConfirmation bool) (common.Hash, error) {
	e.mu.RLock()
	t, ok := e.txs[id]
	e.mu.RUnlock()
	if !ok {
		return common.Hash{}, ErrTxNotFound
	}

	wait := t.submitted
	if waitForConfirmation {
		wait = t.done
	}
	select {
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	case <-wait:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if isDone(t) {
		t.delivered = true
	}
	if waitForConfirmation {
		return t.meta.Hash, t.result
	}
	return t.meta.Hash, t.sendErr
}

// pruneLocked drops finished transactions whose result was delivered, and
// finished ones left unread past txRetention.
func (e *EthEngine) pruneLocked(now time.Time) {
	for id, t := range e.txs {
		if !isDone(t) {
			continue
		}
		if t.delivered || now.Sub(t.meta.UpdatedAt) > txRetention {
			delete(e.txs, id)
		}
	}
}

func isDone(t *trackedTx) bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (e *EthEngine) GetTransaction(id string) (*TxMeta, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.txs[id]
	if !ok {
		return nil, false
	}
	meta := t.meta
	return &meta, true
}
