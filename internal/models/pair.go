package models

import (
	"fmt"
	"strings"
)

// Pair identifies one pool instance: a currency and its fixed deposit amount.
type Pair struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// NewPair builds a normalized pair (currency is lower-cased, blanks trimmed).
func NewPair(currency, amount string) Pair {
	return Pair{
		Currency: strings.ToLower(strings.TrimSpace(currency)),
		Amount:   strings.TrimSpace(amount),
	}
}

// Key is the storage key of the pair, e.g. "eth-0.1".
func (p Pair) Key() string {
	return fmt.Sprintf("%s-%s", p.Currency, p.Amount)
}

func (p Pair) String() string {
	return fmt.Sprintf("%s %s", p.Amount, strings.ToUpper(p.Currency))
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.Currency == "" && p.Amount == ""
}

// ParsePairKey is the inverse of Pair.Key.
func ParsePairKey(key string) (Pair, error) {
	parts := strings.SplitN(key, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid pair key %q", key)
	}
	return NewPair(parts[0], parts[1]), nil
}
