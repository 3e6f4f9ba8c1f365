package repository

import (
	"context"
	"fmt"
	"strings"

	"privpool-backend/internal/models"
)

// EventRepository append-only cache of pool events plus the sync cursor of
// every (kind, chain, pair) series.
type EventRepository interface {
	AppendDeposits(ctx context.Context, chainID int64, pair models.Pair, events []models.DepositEvent) error
	AppendWithdrawals(ctx context.Context, chainID int64, pair models.Pair, events []models.WithdrawalEvent) error
	// Truncate clears the events and the cursor of one series.
	Truncate(ctx context.Context, chainID int64, pair models.Pair, kind models.EventKind) error

	// GetLeavesUpTo returns deposit events with leafIndex <= lastLeafIndex
	// ordered by leafIndex; a negative lastLeafIndex returns all of them.
	GetLeavesUpTo(ctx context.Context, chainID int64, pair models.Pair, lastLeafIndex int) ([]models.DepositEvent, error)
	// GetLeavesAfter returns deposit events with leafIndex > afterLeafIndex ordered by leafIndex.
	GetLeavesAfter(ctx context.Context, chainID int64, pair models.Pair, afterLeafIndex int) ([]models.DepositEvent, error)
	FindDepositByCommitment(ctx context.Context, chainID int64, pair models.Pair, commitmentHex string) (*models.DepositEvent, error)
	IsSpent(ctx context.Context, chainID int64, pair models.Pair, nullifierHex string) (bool, error)
	CountEvents(ctx context.Context, kind models.EventKind, chainID int64, pair models.Pair) (int, error)

	GetCursor(ctx context.Context, kind models.EventKind, chainID int64, pair models.Pair) (*models.SyncCursor, error)
	SaveCursor(ctx context.Context, cursor *models.SyncCursor) error

	Close() error
}

// NormalizeHex lower-cases a 0x value so lookups are case-insensitive.
func NormalizeHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return s
}

func seriesPrefix(chainID int64, pair models.Pair) string {
	return fmt.Sprintf("%d:%s", chainID, pair.Key())
}

// DepositEventID storage key of a deposit event; leaf indices are unique per pool.
func DepositEventID(chainID int64, pair models.Pair, leafIndex uint32) string {
	return fmt.Sprintf("%s:%010d", seriesPrefix(chainID, pair), leafIndex)
}

// WithdrawalEventID storage key of a withdrawal event; a nullifier is spent once per pool.
func WithdrawalEventID(chainID int64, pair models.Pair, nullifierHex string) string {
	return fmt.Sprintf("%s:%s", seriesPrefix(chainID, pair), NormalizeHex(nullifierHex))
}

// CursorID storage key of a sync cursor
func CursorID(kind models.EventKind, chainID int64, pair models.Pair) string {
	return fmt.Sprintf("%s:%s", kind, seriesPrefix(chainID, pair))
}

func prepareDeposits(chainID int64, pair models.Pair, events []models.DepositEvent) []models.DepositEvent {
	out := make([]models.DepositEvent, len(events))
	for i, ev := range events {
		ev.ChainID = chainID
		ev.Currency = pair.Currency
		ev.Amount = pair.Amount
		ev.CommitmentHex = NormalizeHex(ev.CommitmentHex)
		ev.ID = DepositEventID(chainID, pair, ev.LeafIndex)
		out[i] = ev
	}
	return out
}

func prepareWithdrawals(chainID int64, pair models.Pair, events []models.WithdrawalEvent) []models.WithdrawalEvent {
	out := make([]models.WithdrawalEvent, len(events))
	for i, ev := range events {
		ev.ChainID = chainID
		ev.Currency = pair.Currency
		ev.Amount = pair.Amount
		ev.NullifierHex = NormalizeHex(ev.NullifierHex)
		ev.ID = WithdrawalEventID(chainID, pair, ev.NullifierHex)
		out[i] = ev
	}
	return out
}
