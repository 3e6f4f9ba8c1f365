package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"privpool-backend/internal/chain"
	"privpool-backend/internal/clients"
	"privpool-backend/internal/events"
	"privpool-backend/internal/metrics"
	"privpool-backend/internal/models"
	"privpool-backend/internal/txengine"
	"privpool-backend/internal/vault"
	"privpool-backend/internal/zkhash"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrRelayerJobFailed     = errors.New("relayer job failed")
	ErrRelayerUnhealthy     = errors.New("relayer is not healthy")
	ErrDepositNotSpendable  = errors.New("deposit is not confirmed or already spent")
	ErrInvalidRecipient     = errors.New("invalid recipient address")
	ErrWithdrawalNotFound   = errors.New("withdrawal not found")
	ErrWithdrawalInProgress = errors.New("withdrawal already in progress for deposit")
)

// Relayer withdrawal relayer API
type Relayer interface {
	GetStatus(ctx context.Context) (*clients.RelayerStatus, error)
	SubmitWithdraw(ctx context.Context, req *clients.WithdrawRequest) (string, error)
	GetJob(ctx context.Context, jobID string) (*clients.RelayerJob, error)
}

// RelayerFactory returns the client of a relayer URL.
type RelayerFactory func(url string) Relayer

// WithdrawalServiceConfig collaborators of WithdrawalService
type WithdrawalServiceConfig struct {
	Vault        *vault.Vault
	Pending      *vault.PendingStore
	Networks     *NetworkManager
	Merkle       *MerkleService
	Worker       *ProverWorker
	Confirmer    Confirmer
	Relayers     RelayerFactory
	DefaultRelay string
	PollInterval time.Duration
	Notifier     *events.Notifier
	Logger       *logrus.Entry
}

// WithdrawRequest user input of a relayed withdrawal
type WithdrawRequest struct {
	DepositID  string
	Recipient  string
	RelayerURL string // empty selects the configured relayer
}

// FeeQuote fee of a withdrawal through one relayer
type FeeQuote struct {
	Fee           *FeeBreakdown
	RewardAccount string
	RelayerURL    string
}

// WithdrawalService relayed withdrawal lifecycle:
// UNSUBMITTED -> PENDING -> CONFIRMED | FAILED.
type WithdrawalService struct {
	cfg    WithdrawalServiceConfig
	logger *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	polling  map[string]bool
	inflight map[string]bool // proving or submitting

	claimMu sync.Mutex // serializes the in-progress check with recording a withdrawal
}

func NewWithdrawalService(cfg WithdrawalServiceConfig) *WithdrawalService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Relayers == nil {
		cfg.Relayers = func(url string) Relayer { return clients.NewRelayerClient(url, 0) }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WithdrawalService{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		polling:  make(map[string]bool),
		inflight: make(map[string]bool),
	}
}

// Stop cancels every background withdrawal and waits for them.
func (s *WithdrawalService) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *WithdrawalService) relayerURL(url string) string {
	if url == "" {
		return s.cfg.DefaultRelay
	}
	return url
}

// QuoteFee asks the relayer for its fee schedule and prices the withdrawal.
func (s *WithdrawalService) QuoteFee(ctx context.Context, pair models.Pair, relayerURL string) (*FeeQuote, error) {
	net, err := s.cfg.Networks.Active()
	if err != nil {
		return nil, err
	}
	binding, err := net.Binding(pair)
	if err != nil {
		return nil, err
	}
	url := s.relayerURL(relayerURL)
	status, err := s.relayerStatus(ctx, net, url)
	if err != nil {
		return nil, err
	}
	if net.Gas == nil {
		return nil, fmt.Errorf("no gas price source for chain %d", net.ChainID)
	}
	gasPrice, err := net.Gas.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	fee, err := CalculateFee(status, binding, gasPrice)
	if err != nil {
		return nil, err
	}
	return &FeeQuote{Fee: fee, RewardAccount: status.RewardAccount, RelayerURL: url}, nil
}

func (s *WithdrawalService) relayerStatus(ctx context.Context, net *Network, url string) (*clients.RelayerStatus, error) {
	if url == "" {
		return nil, fmt.Errorf("no relayer configured")
	}
	status, err := s.cfg.Relayers(url).GetStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("relayer status: %w", err)
	}
	if !status.Healthy() {
		return nil, fmt.Errorf("%w: %s", ErrRelayerUnhealthy, status.Health.Error)
	}
	if status.NetID != 0 && status.NetID != net.ChainID {
		return nil, fmt.Errorf("relayer serves chain %d, not %d", status.NetID, net.ChainID)
	}
	if !common.IsHexAddress(status.RewardAccount) {
		return nil, fmt.Errorf("relayer reward account %q is invalid", status.RewardAccount)
	}
	return status, nil
}

// Withdraw records an UNSUBMITTED withdrawal and proves, submits and polls
// it in the background.
func (s *WithdrawalService) Withdraw(ctx context.Context, req WithdrawRequest) (*models.PendingWithdrawal, error) {
	if !common.IsHexAddress(req.Recipient) {
		return nil, ErrInvalidRecipient
	}
	net, err := s.cfg.Networks.Active()
	if err != nil {
		return nil, err
	}
	state, err := s.cfg.Vault.Retrieve()
	if err != nil {
		return nil, err
	}
	dep := state.Network(net.ChainID).FindDeposit(req.DepositID)
	if dep == nil {
		return nil, ErrDepositNotFound
	}
	if dep.Status != models.DepositStatusConfirmed || dep.IsSpent() {
		return nil, ErrDepositNotSpendable
	}
	binding, err := net.Binding(dep.Pair)
	if err != nil {
		return nil, err
	}
	if err := s.checkNoActiveWithdrawal(ctx, net.ChainID, dep.ID); err != nil {
		return nil, err
	}

	quote, err := s.QuoteFee(ctx, dep.Pair, req.RelayerURL)
	if err != nil {
		return nil, err
	}

	pw := &models.PendingWithdrawal{
		PendingID:  uuid.New().String(),
		DepositID:  dep.ID,
		Pair:       dep.Pair,
		ToAddress:  common.HexToAddress(req.Recipient).Hex(),
		RelayerURL: quote.RelayerURL,
		Status:     models.WithdrawalStatusUnsubmitted,
		Fee:        quote.Fee.TotalFee.String(),
		ChainID:    net.ChainID,
		Time:       time.Now(),
	}
	// inflight before the record exists so Resume never fails it as stale
	s.mu.Lock()
	s.inflight[pw.PendingID] = true
	s.mu.Unlock()
	if err := s.claim(ctx, pw); err != nil {
		s.mu.Lock()
		delete(s.inflight, pw.PendingID)
		s.mu.Unlock()
		return nil, err
	}
	s.transition(pw)

	deposit := *dep

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, pw.PendingID)
			s.mu.Unlock()
		}()
		s.process(s.ctx, net, binding, deposit, pw, quote)
	}()
	return pw, nil
}

// claim records pw unless its deposit gained an active withdrawal since the
// caller last looked.
func (s *WithdrawalService) claim(ctx context.Context, pw *models.PendingWithdrawal) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if err := s.checkNoActiveWithdrawal(ctx, pw.ChainID, pw.DepositID); err != nil {
		return err
	}
	if err := s.cfg.Pending.Add(ctx, pw); err != nil {
		return fmt.Errorf("failed to record withdrawal: %w", err)
	}
	return nil
}

func (s *WithdrawalService) checkNoActiveWithdrawal(ctx context.Context, chainID int64, depositID string) error {
	list, err := s.cfg.Pending.ListByChain(ctx, chainID)
	if err != nil {
		return err
	}
	for _, w := range list {
		if w.DepositID == depositID && !w.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrWithdrawalInProgress, w.PendingID)
		}
	}
	return nil
}

func (s *WithdrawalService) process(ctx context.Context, net *Network, binding *chain.ContractBinding, dep models.Deposit, pw *models.PendingWithdrawal, quote *FeeQuote) {
	jobID, err := s.prove(ctx, net, binding, dep, pw, quote)
	if err != nil {
		if errors.Is(err, ErrNetworkChanged) {
			s.logger.Infof("[Withdrawal] %s dropped: network changed while proving", pw.PendingID)
		} else {
			s.logger.Warnf("[Withdrawal] %s failed before submission: %v", pw.PendingID, err)
		}
		s.fail(ctx, pw.PendingID, err.Error())
		return
	}

	updated, err := s.cfg.Pending.Modify(ctx, pw.PendingID, func(w *models.PendingWithdrawal) error {
		w.JobID = jobID
		w.Status = models.WithdrawalStatusPending
		w.StatusMessage = clients.JobStatusQueued
		return nil
	})
	if err != nil || updated == nil {
		s.logger.Errorf("[Withdrawal] %s submitted as job %s but not recorded: %v", pw.PendingID, jobID, err)
		return
	}
	s.transition(updated)
	s.logger.Infof("[Withdrawal] %s submitted to %s, job %s", pw.PendingID, pw.RelayerURL, jobID)

	s.poll(ctx, updated.PendingID)
}

func (s *WithdrawalService) prove(ctx context.Context, net *Network, binding *chain.ContractBinding, dep models.Deposit, pw *models.PendingWithdrawal, quote *FeeQuote) (string, error) {
	chainID := net.ChainID

	n, err := s.cfg.Worker.ParseNote(ctx, dep.Note)
	if err != nil {
		return "", err
	}
	proof, err := s.cfg.Merkle.GenerateProof(ctx, net, binding, n)
	if err != nil {
		return "", err
	}
	if !s.cfg.Networks.IsActive(chainID) {
		return "", ErrNetworkChanged
	}

	fee := zkhash.BigToHex(quote.Fee.TotalFee)
	refund := zkhash.BigToHex(big.NewInt(0))
	recipient := common.HexToAddress(pw.ToAddress).Hex()
	relayer := common.HexToAddress(quote.RewardAccount).Hex()

	resp, err := s.cfg.Worker.GenerateWithdrawProof(ctx, &clients.WithdrawProofRequest{
		Root:          proof.Root,
		NullifierHash: n.NullifierHex,
		Recipient:     recipient,
		Relayer:       relayer,
		Fee:           fee,
		Refund:        refund,
		Nullifier:     zkhash.LittleEndianToHex(n.Nullifier[:]),
		Secret:        zkhash.LittleEndianToHex(n.Secret[:]),
		PathElements:  proof.PathElements,
		PathIndices:   proof.PathIndices,
	})
	if err != nil {
		return "", fmt.Errorf("proof generation failed: %w", err)
	}
	if !s.cfg.Networks.IsActive(chainID) {
		return "", ErrNetworkChanged
	}

	args := resp.Args
	if len(args) != 6 {
		args = []string{proof.Root, n.NullifierHex, recipient, relayer, fee, refund}
	}
	return s.cfg.Relayers(pw.RelayerURL).SubmitWithdraw(ctx, &clients.WithdrawRequest{
		Contract: binding.Pool.Hex(),
		Proof:    resp.Proof,
		Args:     args,
	})
}

func (s *WithdrawalService) startPolling(pendingID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poll(s.ctx, pendingID)
	}()
}

// poll follows the relayer job at a fixed interval. It returns silently when
// the vault locks or the active network changes.
func (s *WithdrawalService) poll(ctx context.Context, pendingID string) {
	s.mu.Lock()
	if s.polling[pendingID] {
		s.mu.Unlock()
		return
	}
	s.polling[pendingID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.polling, pendingID)
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		pw, err := s.cfg.Pending.Get(ctx, pendingID)
		if err != nil || pw == nil || pw.Status.IsTerminal() {
			return
		}
		if !s.cfg.Vault.IsUnlocked() || !s.cfg.Networks.IsActive(pw.ChainID) {
			s.logger.Debugf("[Withdrawal] polling of %s paused", pendingID)
			return
		}

		if done := s.pollOnce(ctx, pw); done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *WithdrawalService) pollOnce(ctx context.Context, pw *models.PendingWithdrawal) bool {
	job, err := s.cfg.Relayers(pw.RelayerURL).GetJob(ctx, pw.JobID)
	if err != nil {
		metrics.RelayerPolls.WithLabelValues("error").Inc()
		s.logger.Debugf("[Withdrawal] job %s status check failed: %v", pw.JobID, err)
		return false
	}
	metrics.RelayerPolls.WithLabelValues(job.Status).Inc()

	switch job.Status {
	case clients.JobStatusFailed:
		reason := clients.ParseFailedReason(job.FailedReason)
		s.logger.Warnf("[Withdrawal] %s: %v: %s", pw.PendingID, ErrRelayerJobFailed, reason)
		s.fail(ctx, pw.PendingID, reason)
		return true

	case clients.JobStatusMined, clients.JobStatusConfirmed:
		if job.TxHash == "" {
			break
		}
		s.update(ctx, pw.PendingID, func(w *models.PendingWithdrawal) {
			w.TxHash = job.TxHash
			w.StatusMessage = job.Status
		})
		if s.cfg.Confirmer != nil {
			_, err := s.cfg.Confirmer.WaitForConfirmations(ctx, pw.ChainID, common.HexToHash(job.TxHash))
			if errors.Is(err, txengine.ErrTxReverted) {
				s.fail(ctx, pw.PendingID, "withdrawal transaction reverted")
				return true
			}
			if err != nil {
				s.logger.Debugf("[Withdrawal] waiting for confirmations of %s: %v", job.TxHash, err)
				return false
			}
		}
		s.confirm(ctx, pw, job.TxHash)
		return true
	}

	s.update(ctx, pw.PendingID, func(w *models.PendingWithdrawal) {
		w.StatusMessage = job.Status
		if job.TxHash != "" {
			w.TxHash = job.TxHash
		}
	})
	return false
}

func (s *WithdrawalService) update(ctx context.Context, pendingID string, fn func(w *models.PendingWithdrawal)) {
	if _, err := s.cfg.Pending.Modify(ctx, pendingID, func(w *models.PendingWithdrawal) error {
		fn(w)
		return nil
	}); err != nil {
		s.logger.Warnf("[Withdrawal] failed to update %s: %v", pendingID, err)
	}
}

func (s *WithdrawalService) fail(ctx context.Context, pendingID, reason string) {
	updated, err := s.cfg.Pending.Modify(ctx, pendingID, func(w *models.PendingWithdrawal) error {
		w.Status = models.WithdrawalStatusFailed
		w.ErrMessage = reason
		return nil
	})
	if err != nil || updated == nil {
		s.logger.Warnf("[Withdrawal] failed to mark %s failed: %v", pendingID, err)
		return
	}
	s.transition(updated)
}

func (s *WithdrawalService) confirm(ctx context.Context, pw *models.PendingWithdrawal, txHash string) {
	updated, err := s.cfg.Pending.Modify(ctx, pw.PendingID, func(w *models.PendingWithdrawal) error {
		w.Status = models.WithdrawalStatusConfirmed
		w.TxHash = txHash
		w.StatusMessage = clients.JobStatusConfirmed
		return nil
	})
	if err != nil || updated == nil {
		s.logger.Warnf("[Withdrawal] failed to mark %s confirmed: %v", pw.PendingID, err)
		return
	}
	s.transition(updated)
	s.logger.Infof("[Withdrawal] %s confirmed, tx %s", pw.PendingID, txHash)

	if !s.cfg.Vault.IsUnlocked() || !s.cfg.Networks.IsActive(pw.ChainID) {
		return
	}
	err = s.cfg.Vault.WithLock(ctx, func(state *models.VaultState) error {
		dep := state.Network(pw.ChainID).FindDeposit(pw.DepositID)
		if dep == nil {
			return ErrDepositNotFound
		}
		dep.SetSpent(true)
		return nil
	})
	if err != nil {
		s.logger.Warnf("[Withdrawal] could not flag deposit %s spent: %v", pw.DepositID, err)
	}
}

func (s *WithdrawalService) transition(pw *models.PendingWithdrawal) {
	metrics.WithdrawalTransitions.WithLabelValues(pw.Status.String()).Inc()
	if err := s.cfg.Notifier.WithdrawalChanged(pw); err != nil {
		s.logger.Debugf("[Withdrawal] notification failed: %v", err)
	}
}

// Resume fails withdrawals that never reached the relayer and restarts
// polling of submitted ones on the active network.
func (s *WithdrawalService) Resume(ctx context.Context) error {
	unsubmitted, err := s.cfg.Pending.ListByStatus(ctx, models.WithdrawalStatusUnsubmitted)
	if err != nil {
		return err
	}
	for _, pw := range unsubmitted {
		s.mu.Lock()
		active := s.inflight[pw.PendingID]
		s.mu.Unlock()
		if active {
			continue
		}
		s.fail(ctx, pw.PendingID, "withdrawal was not submitted")
	}

	pending, err := s.cfg.Pending.ListByStatus(ctx, models.WithdrawalStatusPending)
	if err != nil {
		return err
	}
	for _, pw := range pending {
		if s.cfg.Networks.IsActive(pw.ChainID) {
			s.startPolling(pw.PendingID)
		}
	}
	return nil
}

// ListWithdrawals withdrawals of the active network, oldest first.
func (s *WithdrawalService) ListWithdrawals(ctx context.Context) ([]models.PendingWithdrawal, error) {
	chainID := s.cfg.Networks.ActiveChainID()
	if chainID == 0 {
		return nil, ErrNoActiveNetwork
	}
	return s.cfg.Pending.ListByChain(ctx, chainID)
}

// GetWithdrawal one withdrawal by id.
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, pendingID string) (*models.PendingWithdrawal, error) {
	pw, err := s.cfg.Pending.Get(ctx, pendingID)
	if err != nil {
		return nil, err
	}
	if pw == nil {
		return nil, ErrWithdrawalNotFound
	}
	return pw, nil
}
