package models

import "time"

// WithdrawalStatus relayed withdrawal status
type WithdrawalStatus string

const (
	WithdrawalStatusUnsubmitted WithdrawalStatus = "UNSUBMITTED" // created, relayer job not obtained yet
	WithdrawalStatusPending     WithdrawalStatus = "PENDING"     // relayer job id stored, polling
	WithdrawalStatusConfirmed   WithdrawalStatus = "CONFIRMED"
	WithdrawalStatusFailed      WithdrawalStatus = "FAILED"
)

func (s WithdrawalStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the withdrawal reached a final state.
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalStatusConfirmed || s == WithdrawalStatusFailed
}

// PendingWithdrawal one relayed withdrawal, queued per network
type PendingWithdrawal struct {
	PendingID     string           `json:"pendingId"`
	DepositID     string           `json:"depositId"`
	Pair          Pair             `json:"pair"`
	ToAddress     string           `json:"toAddress"`
	RelayerURL    string           `json:"relayerUrl"`
	JobID         string           `json:"jobId,omitempty"`
	Status        WithdrawalStatus `json:"status"`
	Fee           string           `json:"fee,omitempty"`
	TxHash        string           `json:"txHash,omitempty"`
	ChainID       int64            `json:"chainId"`
	StatusMessage string           `json:"statusMessage,omitempty"`
	ErrMessage    string           `json:"errMessage,omitempty"`
	Time          time.Time        `json:"time"`
}
