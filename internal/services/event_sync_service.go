package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"privpool-backend/internal/chain"
	"privpool-backend/internal/metrics"
	"privpool-backend/internal/models"
	"privpool-backend/internal/repository"

	"github.com/sirupsen/logrus"
)

// EventIndexer paginated remote event source
type EventIndexer interface {
	Enabled() bool
	FetchDeposits(ctx context.Context, chainID int64, pair models.Pair, fromIndex uint64) ([]models.DepositEvent, error)
	FetchWithdrawals(ctx context.Context, chainID int64, pair models.Pair, fromIndex uint64) ([]models.WithdrawalEvent, error)
}

// SyncResult outcome of one SyncEvents call
type SyncResult struct {
	Kind    models.EventKind
	Source  string // indexer | chain
	Fetched int
	Cursor  *models.SyncCursor
}

// EventSyncService keeps the event store current for every (kind, chain,
// pair) series: indexer first, node logs as fallback.
type EventSyncService struct {
	repo    repository.EventRepository
	indexer EventIndexer
	logger  *logrus.Entry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEventSyncService(repo repository.EventRepository, indexer EventIndexer, logger *logrus.Entry) *EventSyncService {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &EventSyncService{
		repo:    repo,
		indexer: indexer,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *EventSyncService) seriesLock(kind models.EventKind, chainID int64, pair models.Pair) *sync.Mutex {
	key := repository.CursorID(kind, chainID, pair)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// SyncEvents fetches new events of one series. With forceUpdate the series
// is truncated and fetched again from the pool deployment.
func (s *EventSyncService) SyncEvents(ctx context.Context, net *Network, kind models.EventKind, binding *chain.ContractBinding, forceUpdate bool) (*SyncResult, error) {
	pair := binding.Pair
	chainID := net.ChainID

	lock := s.seriesLock(kind, chainID, pair)
	lock.Lock()
	defer lock.Unlock()

	if forceUpdate {
		if err := s.repo.Truncate(ctx, chainID, pair, kind); err != nil {
			return nil, fmt.Errorf("failed to truncate %s events: %w", kind, err)
		}
	}

	var cursor *models.SyncCursor
	if !forceUpdate {
		c, err := s.repo.GetCursor(ctx, kind, chainID, pair)
		if err != nil {
			return nil, fmt.Errorf("failed to read cursor: %w", err)
		}
		cursor = c
	}
	fromIndex := uint64(0)
	fromBlock := binding.DeployedBlock
	if cursor != nil {
		fromIndex = cursor.LastEventIndex
		fromBlock = cursor.LastQueriedBlock + 1
	}

	result := &SyncResult{Kind: kind, Cursor: cursor}
	var deposits []models.DepositEvent
	var withdrawals []models.WithdrawalEvent
	var err error

	if s.indexer != nil && s.indexer.Enabled() {
		result.Source = "indexer"
		deposits, withdrawals, err = s.fetchFromIndexer(ctx, kind, chainID, pair, fromIndex)
		if err != nil {
			metrics.SyncIndexerFallbacks.WithLabelValues(string(kind)).Inc()
			s.logger.Warnf("[EventSync] indexer failed for %s %s on chain %d, scanning logs from block %d: %v",
				pair, kind, chainID, fromBlock, err)
		}
	}
	if result.Source == "" || err != nil {
		result.Source = "chain"
		deposits, withdrawals, err = s.fetchFromChain(ctx, net, kind, binding, fromBlock)
		if err != nil {
			metrics.SyncRuns.WithLabelValues(string(kind), result.Source, "error").Inc()
			return nil, fmt.Errorf("failed to sync %s events of %s: %w", kind, pair, err)
		}
	}

	var lastBlock uint64
	switch kind {
	case models.EventKindDeposit:
		result.Fetched = len(deposits)
		if len(deposits) > 0 {
			if err := s.repo.AppendDeposits(ctx, chainID, pair, deposits); err != nil {
				return nil, fmt.Errorf("failed to store deposit events: %w", err)
			}
			lastBlock = deposits[len(deposits)-1].BlockNumber
		}
	case models.EventKindWithdrawal:
		result.Fetched = len(withdrawals)
		if len(withdrawals) > 0 {
			if err := s.repo.AppendWithdrawals(ctx, chainID, pair, withdrawals); err != nil {
				return nil, fmt.Errorf("failed to store withdrawal events: %w", err)
			}
			lastBlock = withdrawals[len(withdrawals)-1].BlockNumber
		}
	}

	metrics.SyncRuns.WithLabelValues(string(kind), result.Source, "ok").Inc()
	if result.Fetched == 0 {
		return result, nil
	}
	metrics.SyncEventsFetched.WithLabelValues(string(kind)).Add(float64(result.Fetched))

	count, err := s.repo.CountEvents(ctx, kind, chainID, pair)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	next := &models.SyncCursor{
		Kind:             kind,
		ChainID:          chainID,
		Currency:         pair.Currency,
		Amount:           pair.Amount,
		LastQueriedBlock: lastBlock,
		LastEventIndex:   uint64(count),
		UpdatedAt:        time.Now(),
	}
	if cursor != nil && cursor.LastQueriedBlock > next.LastQueriedBlock {
		next.LastQueriedBlock = cursor.LastQueriedBlock
	}
	if err := s.repo.SaveCursor(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save cursor: %w", err)
	}
	result.Cursor = next

	s.logger.Debugf("[EventSync] %s %s on chain %d: %d new events via %s, cursor block %d",
		pair, kind, chainID, result.Fetched, result.Source, next.LastQueriedBlock)
	return result, nil
}

func (s *EventSyncService) fetchFromIndexer(ctx context.Context, kind models.EventKind, chainID int64, pair models.Pair, fromIndex uint64) ([]models.DepositEvent, []models.WithdrawalEvent, error) {
	if kind == models.EventKindDeposit {
		events, err := s.indexer.FetchDeposits(ctx, chainID, pair, fromIndex)
		return events, nil, err
	}
	events, err := s.indexer.FetchWithdrawals(ctx, chainID, pair, fromIndex)
	return nil, events, err
}

func (s *EventSyncService) fetchFromChain(ctx context.Context, net *Network, kind models.EventKind, binding *chain.ContractBinding, fromBlock uint64) ([]models.DepositEvent, []models.WithdrawalEvent, error) {
	if net.Logs == nil {
		return nil, nil, fmt.Errorf("no log source for chain %d", net.ChainID)
	}
	res, err := net.Logs.Scan(ctx, binding.Pool, kind, fromBlock)
	if err != nil {
		return nil, nil, err
	}
	return res.Deposits, res.Withdrawals, nil
}
