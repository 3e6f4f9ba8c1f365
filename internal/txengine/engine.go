// Package txengine submits wallet transactions: it builds, signs and
// broadcasts them, then tracks receipts and confirmations.
package txengine

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTxNotFound      = errors.New("transaction not found")
	ErrTxNotApproved   = errors.New("transaction has not been approved")
	ErrTxReverted      = errors.New("transaction reverted")
	ErrUnknownChain    = errors.New("no signer registered for chain")
	ErrAlreadyApproved = errors.New("transaction already approved")
)

// TxStatus engine-side status of a transaction
type TxStatus string

const (
	TxStatusUnapproved TxStatus = "unapproved"
	TxStatusSubmitted  TxStatus = "submitted"
	TxStatusConfirmed  TxStatus = "confirmed"
	TxStatusFailed     TxStatus = "failed"
)

// TxParams what to send. GasLimit 0 means estimate.
type TxParams struct {
	ChainID  int64
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
	Origin   string // free-form label for logs, e.g. "deposit"
}

// TxMeta snapshot of a tracked transaction
type TxMeta struct {
	ID          string
	Params      TxParams
	Status      TxStatus
	Hash        common.Hash
	BlockNumber uint64
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Engine transaction engine used by the deposit flow
type Engine interface {
	AddTransaction(ctx context.Context, params TxParams) (*TxMeta, error)
	ApproveTransaction(ctx context.Context, id string) error
	// WaitForTransactionResult blocks until the transaction is broadcast, or
	// until it is confirmed when waitForConfirmation is set.
	WaitForTransactionResult(ctx context.Context, id string, waitForConfirmation bool) (common.Hash, error)
	GetTransaction(id string) (*TxMeta, bool)
}
