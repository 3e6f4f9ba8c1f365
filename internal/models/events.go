package models

import "time"

// EventKind selects one of the two event series kept per pool.
type EventKind string

const (
	EventKindDeposit    EventKind = "deposit"
	EventKindWithdrawal EventKind = "withdrawal"
)

// DepositEvent pool Deposit(commitment, leafIndex, timestamp) log
type DepositEvent struct {
	ID            string `json:"-" gorm:"primaryKey"`
	ChainID       int64  `json:"-" gorm:"index:idx_deposit_series;not null"`
	Currency      string `json:"-" gorm:"index:idx_deposit_series;not null"`
	Amount        string `json:"-" gorm:"index:idx_deposit_series;not null"`
	LeafIndex     uint32 `json:"leafIndex" gorm:"not null"`
	CommitmentHex string `json:"commitment" gorm:"index;not null"`
	Timestamp     int64  `json:"timestamp"`
	TxHash        string `json:"transactionHash"`
	BlockNumber   uint64 `json:"blockNumber" gorm:"index"`
}

// WithdrawalEvent pool Withdrawal(to, nullifierHash, relayer, fee) log
type WithdrawalEvent struct {
	ID           string `json:"-" gorm:"primaryKey"`
	ChainID      int64  `json:"-" gorm:"index:idx_withdrawal_series;not null"`
	Currency     string `json:"-" gorm:"index:idx_withdrawal_series;not null"`
	Amount       string `json:"-" gorm:"index:idx_withdrawal_series;not null"`
	NullifierHex string `json:"nullifierHash" gorm:"index;not null"`
	To           string `json:"to"`
	Fee          string `json:"fee"`
	TxHash       string `json:"transactionHash"`
	BlockNumber  uint64 `json:"blockNumber" gorm:"index"`
}

// SyncCursor incremental sync position of one event series.
type SyncCursor struct {
	ID               string    `json:"-" gorm:"primaryKey"`
	Kind             EventKind `json:"kind" gorm:"not null"`
	ChainID          int64     `json:"chainId" gorm:"not null"`
	Currency         string    `json:"currency" gorm:"not null"`
	Amount           string    `json:"amount" gorm:"not null"`
	LastQueriedBlock uint64    `json:"lastQueriedBlock"`
	LastEventIndex   uint64    `json:"lastEventIndex"` // number of events already fetched
	UpdatedAt        time.Time `json:"updatedAt"`
}
