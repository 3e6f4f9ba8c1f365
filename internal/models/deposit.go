package models

import "time"

// DepositStatus deposit lifecycle status
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "PENDING"   // tx accepted by the engine, waiting for confirmations
	DepositStatusConfirmed DepositStatus = "CONFIRMED" // mined with enough confirmations
	DepositStatusFailed    DepositStatus = "FAILED"    // reverted, timed out or abandoned
)

// IsTerminal reports whether no further transition is possible.
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusConfirmed || s == DepositStatusFailed
}

// Deposit ledger record kept inside the encrypted vault, one list per network.
type Deposit struct {
	ID             string        `json:"id"`
	Note           string        `json:"note"` // 0x + hex(preimage)
	NullifierHex   string        `json:"nullifierHex"`
	CommitmentHex  string        `json:"commitmentHex"`
	Pair           Pair          `json:"pair"`
	Spent          *bool         `json:"spent,omitempty"` // nil when the spent check could not run
	Status         DepositStatus `json:"status"`
	DepositIndex   uint32        `json:"depositIndex"`
	Timestamp      time.Time     `json:"timestamp"`
	ChainID        int64         `json:"chainId"`
	DepositAddress string        `json:"depositAddress,omitempty"`
	TxID           string        `json:"txId,omitempty"`   // transaction engine id
	TxHash         string        `json:"txHash,omitempty"` // known once broadcast
	Recovered      bool          `json:"recovered,omitempty"`
}

// IsSpent treats an unknown spent flag as not spent.
func (d *Deposit) IsSpent() bool {
	return d.Spent != nil && *d.Spent
}

// SetSpent records a definite spent state.
func (d *Deposit) SetSpent(spent bool) {
	d.Spent = &spent
}
