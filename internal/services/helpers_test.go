package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"privpool-backend/internal/chain"
	"privpool-backend/internal/clients"
	"privpool-backend/internal/config"
	"privpool-backend/internal/merkle"
	"privpool-backend/internal/models"
	"privpool-backend/internal/note"
	"privpool-backend/internal/repository"
	"privpool-backend/internal/txengine"
	"privpool-backend/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	testChainID  int64 = 1
	testMnemonic       = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testPassword       = "correct horse"
)

var testPair = models.NewPair("eth", "0.1")

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// fakeIndexer serves deposit and withdrawal events by index.
type fakeIndexer struct {
	mu          sync.Mutex
	enabled     bool
	deposits    []models.DepositEvent
	withdrawals []models.WithdrawalEvent
	err         error
	calls       int
}

func (f *fakeIndexer) Enabled() bool { return f.enabled }

func (f *fakeIndexer) FetchDeposits(ctx context.Context, chainID int64, pair models.Pair, fromIndex uint64) ([]models.DepositEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if fromIndex >= uint64(len(f.deposits)) {
		return nil, nil
	}
	return append([]models.DepositEvent(nil), f.deposits[fromIndex:]...), nil
}

func (f *fakeIndexer) FetchWithdrawals(ctx context.Context, chainID int64, pair models.Pair, fromIndex uint64) ([]models.WithdrawalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if fromIndex >= uint64(len(f.withdrawals)) {
		return nil, nil
	}
	return append([]models.WithdrawalEvent(nil), f.withdrawals[fromIndex:]...), nil
}

func (f *fakeIndexer) addDeposit(commitmentHex string, block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits = append(f.deposits, models.DepositEvent{
		LeafIndex:     uint32(len(f.deposits)),
		CommitmentHex: commitmentHex,
		Timestamp:     time.Now().Unix(),
		BlockNumber:   block,
	})
}

func (f *fakeIndexer) addWithdrawal(nullifierHex string, block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawals = append(f.withdrawals, models.WithdrawalEvent{NullifierHex: nullifierHex, BlockNumber: block})
}

// fakeLogs on-chain source filtered by block.
type fakeLogs struct {
	mu          sync.Mutex
	deposits    []models.DepositEvent
	withdrawals []models.WithdrawalEvent
	fromBlocks  []uint64
}

func (f *fakeLogs) Scan(ctx context.Context, pool common.Address, kind models.EventKind, fromBlock uint64) (*chain.ScanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fromBlocks = append(f.fromBlocks, fromBlock)
	res := &chain.ScanResult{}
	for _, ev := range f.deposits {
		if kind == models.EventKindDeposit && ev.BlockNumber >= fromBlock {
			res.Deposits = append(res.Deposits, ev)
		}
	}
	for _, ev := range f.withdrawals {
		if kind == models.EventKindWithdrawal && ev.BlockNumber >= fromBlock {
			res.Withdrawals = append(res.Withdrawals, ev)
		}
	}
	return res, nil
}

type failingLogs struct{}

func (failingLogs) Scan(ctx context.Context, pool common.Address, kind models.EventKind, fromBlock uint64) (*chain.ScanResult, error) {
	return nil, errors.New("rpc unavailable")
}

// fakePools accepts roots through accept; nil accepts everything.
type fakePools struct {
	mu        sync.Mutex
	accept    func(root string, call int) bool
	calls     int
	allowance *big.Int
}

func (f *fakePools) IsKnownRoot(ctx context.Context, pool common.Address, rootHex string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.accept == nil {
		return true, nil
	}
	return f.accept(rootHex, f.calls), nil
}

func (f *fakePools) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if f.allowance == nil {
		return big.NewInt(0), nil
	}
	return f.allowance, nil
}

type fakeGas struct{}

func (fakeGas) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(20000000000), nil
}

// fakeEngine settles every approved transaction with result.
type fakeEngine struct {
	mu       sync.Mutex
	txs      map[string]*txengine.TxMeta
	order    []string
	result   error
	hold     chan struct{} // when set, confirmations wait on it
	rejectOn int           // ApproveTransaction fails on this call number
	approved int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{txs: make(map[string]*txengine.TxMeta)}
}

func (e *fakeEngine) AddTransaction(ctx context.Context, params txengine.TxParams) (*txengine.TxMeta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := common.BigToHash(big.NewInt(int64(len(e.order) + 1))).Hex()
	meta := &txengine.TxMeta{ID: id, Params: params, Status: txengine.TxStatusUnapproved}
	e.txs[id] = meta
	e.order = append(e.order, id)
	cp := *meta
	return &cp, nil
}

func (e *fakeEngine) ApproveTransaction(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approved++
	if e.rejectOn == e.approved {
		return errors.New("user rejected")
	}
	meta := e.txs[id]
	meta.Status = txengine.TxStatusSubmitted
	meta.Hash = common.HexToHash(id)
	return nil
}

func (e *fakeEngine) WaitForTransactionResult(ctx context.Context, id string, waitForConfirmation bool) (common.Hash, error) {
	e.mu.Lock()
	meta, ok := e.txs[id]
	hold := e.hold
	result := e.result
	e.mu.Unlock()
	if !ok {
		return common.Hash{}, txengine.ErrTxNotFound
	}
	if waitForConfirmation && hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}
	return meta.Hash, result
}

func (e *fakeEngine) GetTransaction(id string) (*txengine.TxMeta, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	meta, ok := e.txs[id]
	if !ok {
		return nil, false
	}
	cp := *meta
	return &cp, true
}

func (e *fakeEngine) SignerAddress(chainID int64) (common.Address, error) {
	return common.HexToAddress("0x00000000000000000000000000000000000000e0"), nil
}

func (e *fakeEngine) sent() []txengine.TxParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []txengine.TxParams
	for _, id := range e.order {
		if e.txs[id].Status != txengine.TxStatusUnapproved {
			out = append(out, e.txs[id].Params)
		}
	}
	return out
}

type fakeConfirmer struct {
	err error
}

func (c *fakeConfirmer) WaitForConfirmations(ctx context.Context, chainID int64, hash common.Hash) (*types.Receipt, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
}

type fakeProver struct{}

func (fakeProver) GenerateWithdrawProof(ctx context.Context, req *clients.WithdrawProofRequest) (*clients.WithdrawProofResponse, error) {
	return &clients.WithdrawProofResponse{
		Proof: "0xproof",
		Args:  []string{req.Root, req.NullifierHash, req.Recipient, req.Relayer, req.Fee, req.Refund},
	}, nil
}

// testEnv wires the services over in-memory stores and fakes.
type testEnv struct {
	ctx      context.Context
	repo     repository.EventRepository
	vault    *vault.Vault
	pending  *vault.PendingStore
	keys     *KeyRing
	networks *NetworkManager
	worker   *ProverWorker
	sync     *EventSyncService
	merkle   *MerkleService
	indexer  *fakeIndexer
	logs     *fakeLogs
	pools    *fakePools
	engine   *fakeEngine
	net      *Network
	binding  *chain.ContractBinding
	rootKey  []byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	eventStore, err := repository.OpenBadgerStore("", nil)
	require.NoError(t, err)
	repo := repository.NewBadgerEventRepository(eventStore)
	t.Cleanup(func() { _ = repo.Close() })

	walletStore, err := repository.OpenBadgerStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = walletStore.Close() })

	v := vault.New(repository.NewVaultBlobRepository(walletStore), "test", 1<<10, logger)
	require.NoError(t, v.Create(ctx, testPassword, testMnemonic, false))

	rootKey, err := note.RootKeyFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	keys := NewKeyRing()
	keys.Set(rootKey)

	deployment := &config.NetworkDeployment{
		ChainID:      testChainID,
		ProxyAddress: "0xd90e2f925DA726b50C4Ed8D0Fb90Ad053324F31b",
		Instances: []config.PoolInstance{
			{Currency: "eth", Amount: "0.1", Address: "0x12D66f87A04A9E220743712cE6d9bB1B5616B8Fc", Decimals: 18, DeployedBlock: 100},
		},
	}
	registry, err := chain.NewContractRegistry(testChainID, deployment, nil)
	require.NoError(t, err)
	binding, _ := registry.Get(testPair)

	indexer := &fakeIndexer{enabled: true}
	logs := &fakeLogs{}
	pools := &fakePools{}
	net := &Network{
		ChainID:  testChainID,
		Registry: registry,
		Pools:    pools,
		Logs:     logs,
		Gas:      fakeGas{},
	}
	networks := NewNetworkManager()
	networks.Activate(net)

	worker := NewProverWorker(fakeProver{}, 8, logger)
	worker.Start()
	t.Cleanup(worker.Stop)

	syncService := NewEventSyncService(repo, indexer, logger)
	return &testEnv{
		ctx:      ctx,
		repo:     repo,
		vault:    v,
		pending:  vault.NewPendingStore(repository.NewPendingWithdrawalRepository(walletStore)),
		keys:     keys,
		networks: networks,
		worker:   worker,
		sync:     syncService,
		merkle:   NewMerkleService(repo, syncService, merkle.DefaultLevels, logger),
		indexer:  indexer,
		logs:     logs,
		pools:    pools,
		engine:   newFakeEngine(),
		net:      net,
		binding:  binding,
		rootKey:  rootKey,
	}
}

func (e *testEnv) note(index uint32) *models.Note {
	return note.Derive(e.rootKey, index, testChainID, testPair)
}

func (e *testEnv) depositService(t *testing.T, confirmer Confirmer) *DepositService {
	return NewDepositService(DepositServiceConfig{
		Vault:            e.vault,
		Keys:             e.keys,
		Networks:         e.networks,
		Engine:           e.engine,
		Confirmer:        confirmer,
		Worker:           e.worker,
		Sync:             e.sync,
		Events:           e.repo,
		RecoveryGapLimit: 3,
		Logger:           testLogger(),
	})
}

func (e *testEnv) depositByID(t *testing.T, id string) models.Deposit {
	t.Helper()
	state, err := e.vault.Retrieve()
	require.NoError(t, err)
	d := state.Network(testChainID).FindDeposit(id)
	require.NotNil(t, d)
	return *d
}

// randomCommitment a valid field element distinct from every derived note.
func randomCommitment(i int) string {
	return common.BigToHash(big.NewInt(int64(1000 + i))).Hex()
}
