package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"privpool-backend/internal/chain"
	"privpool-backend/internal/events"
	"privpool-backend/internal/metrics"
	"privpool-backend/internal/models"
	"privpool-backend/internal/note"
	"privpool-backend/internal/repository"
	"privpool-backend/internal/txengine"
	"privpool-backend/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDepositNotFound  = errors.New("deposit not found")
	ErrDepositNotFailed = errors.New("only failed deposits can be deleted")
)

// TxSender transaction engine plus the account it signs with
type TxSender interface {
	txengine.Engine
	SignerAddress(chainID int64) (common.Address, error)
}

// Confirmer follows a transaction by hash, for transactions the engine did
// not send itself (relayer withdrawals, deposits from a previous run).
type Confirmer interface {
	WaitForConfirmations(ctx context.Context, chainID int64, hash common.Hash) (*types.Receipt, error)
}

type generatorSlot struct {
	mu  sync.Mutex // spans note acquisition and submission
	gen *DerivationGenerator
}

// DepositServiceConfig collaborators of DepositService
type DepositServiceConfig struct {
	Vault            *vault.Vault
	Keys             *KeyRing
	Networks         *NetworkManager
	Engine           TxSender
	Confirmer        Confirmer
	Worker           *ProverWorker
	Sync             *EventSyncService
	Events           repository.EventRepository
	Notifier         *events.Notifier
	RecoveryGapLimit uint32
	Logger           *logrus.Entry
}

// DepositService deposit lifecycle: PENDING -> CONFIRMED | FAILED.
type DepositService struct {
	cfg    DepositServiceConfig
	logger *logrus.Entry

	mu          sync.Mutex
	generators  map[string]*generatorSlot
	reconciling map[string]bool
}

func NewDepositService(cfg DepositServiceConfig) *DepositService {
	if cfg.RecoveryGapLimit == 0 {
		cfg.RecoveryGapLimit = 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DepositService{
		cfg:         cfg,
		logger:      logger,
		generators:  make(map[string]*generatorSlot),
		reconciling: make(map[string]bool),
	}
}

// ResetGenerators forgets every generator; called on lock and network change.
func (s *DepositService) ResetGenerators() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generators = make(map[string]*generatorSlot)
}

func (s *DepositService) slot(ctx context.Context, net *Network, pair models.Pair) (*generatorSlot, error) {
	key := treeKey(net.ChainID, pair)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.generators[key]; ok {
		return sl, nil
	}

	state, err := s.cfg.Vault.Retrieve()
	if err != nil {
		return nil, err
	}
	start := state.Network(net.ChainID).NoteCounts[pair.Key()]
	if binding, ok := net.Registry.Get(pair); ok && binding.NoteCount > start {
		start = binding.NoteCount
	}

	chainID := net.ChainID
	derive := func(ctx context.Context, index uint32) (*models.Note, error) {
		rootKey, err := s.cfg.Keys.RootKey()
		if err != nil {
			return nil, err
		}
		return s.cfg.Worker.DeriveNote(ctx, rootKey, index, chainID, pair)
	}
	lookup := func(ctx context.Context, commitmentHex string) (bool, error) {
		ev, err := s.cfg.Events.FindDepositByCommitment(ctx, chainID, pair, commitmentHex)
		return ev != nil, err
	}
	sl := &generatorSlot{gen: NewDerivationGenerator(pair, start, derive, lookup)}
	s.generators[key] = sl
	return sl, nil
}

// Deposit derives the next free note of pair and sends the deposit.
func (s *DepositService) Deposit(ctx context.Context, pair models.Pair) (*models.Deposit, error) {
	net, err := s.cfg.Networks.Active()
	if err != nil {
		return nil, err
	}
	binding, err := net.Binding(pair)
	if err != nil {
		return nil, err
	}
	pair = binding.Pair

	sl, err := s.slot(ctx, net, pair)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if _, err := s.cfg.Sync.SyncEvents(ctx, net, models.EventKindDeposit, binding, false); err != nil {
		return nil, fmt.Errorf("failed to sync deposits before deriving: %w", err)
	}

	var out *DerivationOutcome
	for {
		out, err = sl.gen.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !out.Recovered {
			break
		}
		s.logger.Infof("[Deposit] index %d of %s on chain %d already deposited, recovering", out.Index, pair, net.ChainID)
		sl.gen.Commit(out.Index)
		if err := s.recordRecovered(ctx, net.ChainID, pair, out.Note, sl.gen.NextIndex()); err != nil {
			return nil, err
		}
	}

	from, err := s.cfg.Engine.SignerAddress(net.ChainID)
	if err != nil {
		return nil, err
	}
	amount, err := binding.AmountWei()
	if err != nil {
		return nil, err
	}
	if !binding.IsNative() {
		if err := s.ensureAllowance(ctx, net, binding, from, amount); err != nil {
			return nil, err
		}
	}

	data, err := chain.PackDeposit(binding.Pool, out.Note.CommitmentHex)
	if err != nil {
		return nil, fmt.Errorf("failed to pack deposit: %w", err)
	}
	value := big.NewInt(0)
	if binding.IsNative() {
		value = amount
	}
	meta, err := s.cfg.Engine.AddTransaction(ctx, txengine.TxParams{
		ChainID: net.ChainID,
		To:      binding.Proxy,
		Value:   value,
		Data:    data,
		Origin:  "deposit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add deposit transaction: %w", err)
	}
	if err := s.cfg.Engine.ApproveTransaction(ctx, meta.ID); err != nil {
		return nil, fmt.Errorf("deposit transaction rejected: %w", err)
	}
	sl.gen.Commit(out.Index)

	deposit := models.Deposit{
		ID:             uuid.New().String(),
		Note:           note.Serialize(out.Note),
		NullifierHex:   out.Note.NullifierHex,
		CommitmentHex:  out.Note.CommitmentHex,
		Pair:           pair,
		Status:         models.DepositStatusPending,
		DepositIndex:   out.Index,
		Timestamp:      time.Now(),
		ChainID:        net.ChainID,
		DepositAddress: from.Hex(),
		TxID:           meta.ID,
	}
	if tx, ok := s.cfg.Engine.GetTransaction(meta.ID); ok && tx.Hash != (common.Hash{}) {
		deposit.TxHash = tx.Hash.Hex()
	}

	nextIndex := sl.gen.NextIndex()
	err = s.cfg.Vault.WithLock(ctx, func(state *models.VaultState) error {
		ns := state.Network(deposit.ChainID)
		ns.Deposits = append(ns.Deposits, deposit)
		if ns.NoteCounts[pair.Key()] < nextIndex {
			ns.NoteCounts[pair.Key()] = nextIndex
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deposit sent but not recorded: %w", err)
	}

	metrics.DepositTransitions.WithLabelValues(string(models.DepositStatusPending)).Inc()
	s.notify(&deposit)
	s.logger.Infof("[Deposit] %s deposit %s sent on chain %d, index %d, tx %s", pair, deposit.ID, deposit.ChainID, deposit.DepositIndex, deposit.TxHash)

	s.startReconcile(deposit)
	return &deposit, nil
}

func (s *DepositService) ensureAllowance(ctx context.Context, net *Network, binding *chain.ContractBinding, owner common.Address, amount *big.Int) error {
	allowance, err := net.Pools.Allowance(ctx, *binding.Token, owner, binding.Proxy)
	if err != nil {
		return fmt.Errorf("failed to read allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	data, err := chain.PackApprove(binding.Proxy, amount)
	if err != nil {
		return err
	}
	meta, err := s.cfg.Engine.AddTransaction(ctx, txengine.TxParams{
		ChainID: net.ChainID,
		To:      *binding.Token,
		Data:    data,
		Origin:  "approve",
	})
	if err != nil {
		return err
	}
	if err := s.cfg.Engine.ApproveTransaction(ctx, meta.ID); err != nil {
		return fmt.Errorf("approve transaction rejected: %w", err)
	}
	if _, err := s.cfg.Engine.WaitForTransactionResult(ctx, meta.ID, true); err != nil {
		return fmt.Errorf("approve transaction failed: %w", err)
	}
	return nil
}

func (s *DepositService) recordRecovered(ctx context.Context, chainID int64, pair models.Pair, n *models.Note, nextIndex uint32) error {
	return s.cfg.Vault.WithLock(ctx, func(state *models.VaultState) error {
		ns := state.Network(chainID)
		if ns.NoteCounts[pair.Key()] < nextIndex {
			ns.NoteCounts[pair.Key()] = nextIndex
		}
		for _, d := range ns.Deposits {
			if d.CommitmentHex == n.CommitmentHex {
				return nil
			}
		}
		ns.Deposits = append(ns.Deposits, recoveredDeposit(chainID, pair, n))
		return nil
	})
}

func recoveredDeposit(chainID int64, pair models.Pair, n *models.Note) models.Deposit {
	return models.Deposit{
		ID:            uuid.New().String(),
		Note:          note.Serialize(n),
		NullifierHex:  n.NullifierHex,
		CommitmentHex: n.CommitmentHex,
		Pair:          pair,
		Status:        models.DepositStatusConfirmed,
		DepositIndex:  n.DepositIndex,
		Timestamp:     time.Now(),
		ChainID:       chainID,
		Recovered:     true,
	}
}

func (s *DepositService) startReconcile(d models.Deposit) {
	s.mu.Lock()
	if s.reconciling[d.ID] {
		s.mu.Unlock()
		return
	}
	s.reconciling[d.ID] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.reconciling, d.ID)
			s.mu.Unlock()
		}()
		if err := s.reconcileDeposit(context.Background(), d); err != nil {
			s.logger.Warnf("[Deposit] reconcile of %s stopped: %v", d.ID, err)
		}
	}()
}

// reconcileDeposit waits for the deposit transaction and records the outcome.
func (s *DepositService) reconcileDeposit(ctx context.Context, d models.Deposit) error {
	var hash common.Hash
	var txErr error
	if _, known := s.cfg.Engine.GetTransaction(d.TxID); known {
		hash, txErr = s.cfg.Engine.WaitForTransactionResult(ctx, d.TxID, true)
	} else if d.TxHash != "" && s.cfg.Confirmer != nil {
		hash = common.HexToHash(d.TxHash)
		_, txErr = s.cfg.Confirmer.WaitForConfirmations(ctx, d.ChainID, hash)
	} else {
		txErr = fmt.Errorf("transaction %s unknown to the engine", d.TxID)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// The receipt decides the outcome; the deposit is recorded under its own
	// chain even if another network became active while waiting.
	status := models.DepositStatusConfirmed
	if txErr != nil {
		status = models.DepositStatusFailed
	}

	var updated models.Deposit
	err := s.cfg.Vault.WithLock(ctx, func(state *models.VaultState) error {
		dep := state.Network(d.ChainID).FindDeposit(d.ID)
		if dep == nil {
			return ErrDepositNotFound
		}
		if dep.Status.IsTerminal() {
			updated = *dep
			return nil
		}
		dep.Status = status
		if hash != (common.Hash{}) {
			dep.TxHash = hash.Hex()
		}
		if status == models.DepositStatusConfirmed {
			dep.SetSpent(false)
		}
		updated = *dep
		return nil
	})
	if err != nil {
		return err
	}

	metrics.DepositTransitions.WithLabelValues(string(updated.Status)).Inc()
	s.notify(&updated)
	if txErr != nil {
		s.logger.Warnf("[Deposit] deposit %s failed: %v", d.ID, txErr)
	} else {
		s.logger.Infof("[Deposit] deposit %s confirmed, tx %s", d.ID, updated.TxHash)
	}
	return nil
}

// ReconcilePending restarts tracking of every pending deposit on the active network.
func (s *DepositService) ReconcilePending(ctx context.Context) error {
	chainID := s.cfg.Networks.ActiveChainID()
	if chainID == 0 {
		return nil
	}
	state, err := s.cfg.Vault.Retrieve()
	if err != nil {
		return err
	}
	ns, ok := state.Networks[chainID]
	if !ok {
		return nil
	}
	for _, d := range ns.Deposits {
		if d.Status == models.DepositStatusPending {
			s.startReconcile(d)
		}
	}
	return nil
}

// DeleteFailedDeposit removes a failed deposit and releases its index.
func (s *DepositService) DeleteFailedDeposit(ctx context.Context, id string) error {
	net, err := s.cfg.Networks.Active()
	if err != nil {
		return err
	}

	var removed models.Deposit
	err = s.cfg.Vault.WithLock(ctx, func(state *models.VaultState) error {
		ns := state.Network(net.ChainID)
		dep := ns.FindDeposit(id)
		if dep == nil {
			return ErrDepositNotFound
		}
		if dep.Status != models.DepositStatusFailed {
			return ErrDepositNotFailed
		}
		removed = *dep
		ns.RemoveDeposit(id)
		return nil
	})
	if err != nil {
		return err
	}
	if removed.Recovered {
		return nil
	}

	sl, err := s.slot(ctx, net, removed.Pair)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	sl.gen.Release(removed.DepositIndex)
	sl.mu.Unlock()
	s.logger.Infof("[Deposit] failed deposit %s deleted, index %d of %s released", id, removed.DepositIndex, removed.Pair)
	return nil
}

// ListDeposits deposits of the active network.
func (s *DepositService) ListDeposits() ([]models.Deposit, error) {
	chainID := s.cfg.Networks.ActiveChainID()
	if chainID == 0 {
		return nil, ErrNoActiveNetwork
	}
	state, err := s.cfg.Vault.Retrieve()
	if err != nil {
		return nil, err
	}
	ns, ok := state.Networks[chainID]
	if !ok {
		return []models.Deposit{}, nil
	}
	return ns.Deposits, nil
}

// ImportStatus recovery flags of the active network.
func (s *DepositService) ImportStatus() (loading, initialized bool, errs []string, err error) {
	chainID := s.cfg.Networks.ActiveChainID()
	if chainID == 0 {
		return false, false, nil, ErrNoActiveNetwork
	}
	state, err := s.cfg.Vault.Retrieve()
	if err != nil {
		return false, false, nil, err
	}
	ns, ok := state.Networks[chainID]
	if !ok {
		return false, false, []string{}, nil
	}
	return ns.IsLoading, ns.IsInitialized, ns.ErrorsInitializing, nil
}

// RefreshSpent checks confirmed deposits of the active network against synced
// withdrawal events. A failed check leaves the flag unknown.
func (s *DepositService) RefreshSpent(ctx context.Context) error {
	net, err := s.cfg.Networks.Active()
	if err != nil {
		return err
	}
	state, err := s.cfg.Vault.Retrieve()
	if err != nil {
		return err
	}
	ns, ok := state.Networks[net.ChainID]
	if !ok {
		return nil
	}

	synced := make(map[models.Pair]error)
	results := make(map[string]*bool)
	for _, d := range ns.Deposits {
		if d.Status != models.DepositStatusConfirmed || d.IsSpent() {
			continue
		}
		syncErr, done := synced[d.Pair]
		if !done {
			syncErr = ErrUnknownPool
			if binding, ok := net.Registry.Get(d.Pair); ok {
				_, syncErr = s.cfg.Sync.SyncEvents(ctx, net, models.EventKindWithdrawal, binding, false)
			}
			synced[d.Pair] = syncErr
		}
		if syncErr != nil {
			results[d.ID] = nil
			continue
		}
		spent, err := s.cfg.Events.IsSpent(ctx, net.ChainID, d.Pair, d.NullifierHex)
		if err != nil {
			results[d.ID] = nil
			continue
		}
		results[d.ID] = &spent
	}
	if len(results) == 0 {
		return nil
	}

	return s.cfg.Vault.WithLock(ctx, func(state *models.VaultState) error {
		ns := state.Network(net.ChainID)
		for id, spent := range results {
			dep := ns.FindDeposit(id)
			if dep == nil {
				continue
			}
			if spent == nil {
				dep.Spent = nil
			} else {
				dep.SetSpent(*spent)
			}
		}
		return nil
	})
}

// ImportNotes rebuilds the deposit list of the active network from the
// derivation sequence. Pairs run in parallel; a failing pair is reported in
// ErrorsInitializing without stopping the others.
func (s *DepositService) ImportNotes(ctx context.Context) error {
	net, err := s.cfg.Networks.Active()
	if err != nil {
		return err
	}
	rootKey, err := s.cfg.Keys.RootKey()
	if err != nil {
		return err
	}
	chainID := net.ChainID

	if err := s.cfg.Vault.WithLock(ctx, func(state *models.VaultState) error {
		ns := state.Network(chainID)
		ns.IsLoading = true
		ns.ErrorsInitializing = []string{}
		return nil
	}); err != nil {
		return err
	}

	type pairResult struct {
		deposits  []models.Deposit
		nextIndex uint32
		err       error
	}
	pairs := net.Registry.Pairs()
	results := make([]pairResult, len(pairs))

	var g errgroup.Group
	g.SetLimit(4)
	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			deposits, next, err := s.scanPair(ctx, net, pair, rootKey)
			results[i] = pairResult{deposits: deposits, nextIndex: next, err: err}
			return nil
		})
	}
	_ = g.Wait()

	err = s.cfg.Vault.WithLock(ctx, func(state *models.VaultState) error {
		ns := state.Network(chainID)
		known := make(map[string]bool, len(ns.Deposits))
		for _, d := range ns.Deposits {
			known[d.CommitmentHex] = true
		}
		for i, r := range results {
			pair := pairs[i]
			if r.err != nil {
				ns.ErrorsInitializing = append(ns.ErrorsInitializing, fmt.Sprintf("%s: %v", pair.Key(), r.err))
				continue
			}
			for _, d := range r.deposits {
				if !known[d.CommitmentHex] {
					ns.Deposits = append(ns.Deposits, d)
					known[d.CommitmentHex] = true
				}
			}
			if ns.NoteCounts[pair.Key()] < r.nextIndex {
				ns.NoteCounts[pair.Key()] = r.nextIndex
			}
		}
		ns.IsLoading = false
		ns.IsInitialized = true
		return nil
	})
	if err != nil {
		return err
	}

	// generators restart from the imported counts
	s.mu.Lock()
	for _, pair := range pairs {
		delete(s.generators, treeKey(chainID, pair))
	}
	s.mu.Unlock()
	return nil
}

func (s *DepositService) scanPair(ctx context.Context, net *Network, pair models.Pair, rootKey []byte) ([]models.Deposit, uint32, error) {
	binding, err := net.Binding(pair)
	if err != nil {
		return nil, 0, err
	}
	if _, err := s.cfg.Sync.SyncEvents(ctx, net, models.EventKindDeposit, binding, false); err != nil {
		return nil, 0, err
	}
	withdrawalsSynced := true
	if _, err := s.cfg.Sync.SyncEvents(ctx, net, models.EventKindWithdrawal, binding, false); err != nil {
		s.logger.Warnf("[Import] withdrawal sync of %s failed, spent flags unknown: %v", pair, err)
		withdrawalsSynced = false
	}

	var deposits []models.Deposit
	var next uint32
	gap := uint32(0)
	for index := uint32(0); gap < s.cfg.RecoveryGapLimit; index++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		n, err := s.cfg.Worker.DeriveNote(ctx, rootKey, index, net.ChainID, pair)
		if err != nil {
			return nil, 0, err
		}
		ev, err := s.cfg.Events.FindDepositByCommitment(ctx, net.ChainID, pair, n.CommitmentHex)
		if err != nil {
			return nil, 0, err
		}
		if ev == nil {
			gap++
			continue
		}
		gap = 0
		next = index + 1

		d := recoveredDeposit(net.ChainID, pair, n)
		if ev.Timestamp > 0 {
			d.Timestamp = time.Unix(ev.Timestamp, 0)
		}
		d.TxHash = ev.TxHash
		if withdrawalsSynced {
			if spent, err := s.cfg.Events.IsSpent(ctx, net.ChainID, pair, n.NullifierHex); err == nil {
				d.SetSpent(spent)
			}
		}
		deposits = append(deposits, d)
	}
	s.logger.Infof("[Import] %s on chain %d: %d deposits recovered, next index %d", pair, net.ChainID, len(deposits), next)
	return deposits, next, nil
}

func (s *DepositService) notify(d *models.Deposit) {
	if err := s.cfg.Notifier.DepositChanged(d); err != nil {
		s.logger.Debugf("[Deposit] notification failed: %v", err)
	}
}
