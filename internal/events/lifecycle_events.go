// Package events publishes deposit and withdrawal lifecycle notifications.
package events

import (
	"fmt"
	"strings"
	"time"

	"privpool-backend/internal/models"
)

// Publisher transport used by Notifier
type Publisher interface {
	PublishJSON(subject string, v interface{}) error
}

// DepositNotification body of privpool.<chainId>.deposit.<status>
type DepositNotification struct {
	DepositID    string               `json:"depositId"`
	ChainID      int64                `json:"chainId"`
	Pair         models.Pair          `json:"pair"`
	Status       models.DepositStatus `json:"status"`
	DepositIndex uint32               `json:"depositIndex"`
	TxHash       string               `json:"txHash,omitempty"`
	Time         time.Time            `json:"time"`
}

// WithdrawalNotification body of privpool.<chainId>.withdrawal.<status>
type WithdrawalNotification struct {
	PendingID string                  `json:"pendingId"`
	DepositID string                  `json:"depositId"`
	ChainID   int64                   `json:"chainId"`
	Pair      models.Pair             `json:"pair"`
	Status    models.WithdrawalStatus `json:"status"`
	TxHash    string                  `json:"txHash,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Time      time.Time               `json:"time"`
}

// Notifier publishes lifecycle transitions. A nil Notifier or one without a
// publisher drops everything.
type Notifier struct {
	publisher Publisher
	prefix    string
}

func NewNotifier(publisher Publisher, prefix string) *Notifier {
	if prefix == "" {
		prefix = "privpool"
	}
	return &Notifier{publisher: publisher, prefix: prefix}
}

func (n *Notifier) DepositChanged(d *models.Deposit) error {
	if n == nil || n.publisher == nil {
		return nil
	}
	subject := fmt.Sprintf("%s.%d.deposit.%s", n.prefix, d.ChainID, strings.ToLower(string(d.Status)))
	return n.publisher.PublishJSON(subject, DepositNotification{
		DepositID:    d.ID,
		ChainID:      d.ChainID,
		Pair:         d.Pair,
		Status:       d.Status,
		DepositIndex: d.DepositIndex,
		TxHash:       d.TxHash,
		Time:         time.Now(),
	})
}

func (n *Notifier) WithdrawalChanged(w *models.PendingWithdrawal) error {
	if n == nil || n.publisher == nil {
		return nil
	}
	subject := fmt.Sprintf("%s.%d.withdrawal.%s", n.prefix, w.ChainID, strings.ToLower(w.Status.String()))
	return n.publisher.PublishJSON(subject, WithdrawalNotification{
		PendingID: w.PendingID,
		DepositID: w.DepositID,
		ChainID:   w.ChainID,
		Pair:      w.Pair,
		Status:    w.Status,
		TxHash:    w.TxHash,
		Error:     w.ErrMessage,
		Time:      time.Now(),
	})
}
