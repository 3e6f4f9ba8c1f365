package services

import (
	"context"
	"sync"
	"time"

	"privpool-backend/internal/models"

	"github.com/sirupsen/logrus"
)

// BlockWatcher periodic background work on the active network: event
// resync, deposit reconciliation, the spent scan and withdrawal polling.
type BlockWatcher struct {
	networks    *NetworkManager
	unlocked    func() bool
	sync        *EventSyncService
	deposits    *DepositService
	withdrawals *WithdrawalService
	interval    time.Duration
	logger      *logrus.Entry

	mutex   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewBlockWatcher(networks *NetworkManager, unlocked func() bool, syncService *EventSyncService, deposits *DepositService, withdrawals *WithdrawalService, interval time.Duration, logger *logrus.Entry) *BlockWatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BlockWatcher{
		networks:    networks,
		unlocked:    unlocked,
		sync:        syncService,
		deposits:    deposits,
		withdrawals: withdrawals,
		interval:    interval,
		logger:      logger,
	}
}

func (w *BlockWatcher) Start() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop(w.stopCh, w.doneCh)
	w.logger.Infof("[BlockWatcher] started, interval %v", w.interval)
}

func (w *BlockWatcher) Stop() {
	w.mutex.Lock()
	if !w.running {
		w.mutex.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mutex.Unlock()
	<-done
	w.logger.Info("[BlockWatcher] stopped")
}

func (w *BlockWatcher) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.interval*4)
			w.Tick(ctx)
			cancel()
		case <-stopCh:
			return
		}
	}
}

// Tick runs one round. Nothing happens while the vault is locked.
func (w *BlockWatcher) Tick(ctx context.Context) {
	if w.unlocked != nil && !w.unlocked() {
		return
	}
	net, err := w.networks.Active()
	if err != nil {
		return
	}

	for _, pair := range net.Registry.Pairs() {
		binding, _ := net.Registry.Get(pair)
		for _, kind := range []models.EventKind{models.EventKindDeposit, models.EventKindWithdrawal} {
			if _, err := w.sync.SyncEvents(ctx, net, kind, binding, false); err != nil {
				w.logger.Warnf("[BlockWatcher] %s %s sync failed: %v", pair, kind, err)
			}
		}
	}

	if err := w.deposits.ReconcilePending(ctx); err != nil {
		w.logger.Debugf("[BlockWatcher] reconcile skipped: %v", err)
	}
	if err := w.deposits.RefreshSpent(ctx); err != nil {
		w.logger.Debugf("[BlockWatcher] spent scan skipped: %v", err)
	}
	if w.withdrawals != nil {
		if err := w.withdrawals.Resume(ctx); err != nil {
			w.logger.Debugf("[BlockWatcher] withdrawal resume skipped: %v", err)
		}
	}
}
