package services

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"privpool-backend/internal/chain"
	"privpool-backend/internal/config"
	"privpool-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoActiveNetwork = errors.New("no active network")
	ErrNetworkChanged  = errors.New("network changed")
	ErrUnknownPool     = errors.New("pool not registered on the active network")
)

// PoolReader read calls against pool and token contracts
type PoolReader interface {
	IsKnownRoot(ctx context.Context, pool common.Address, rootHex string) (bool, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// GasPricer gas price oracle of the node
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// LogSource on-chain event source used when the indexer fails
type LogSource interface {
	Scan(ctx context.Context, pool common.Address, kind models.EventKind, fromBlock uint64) (*chain.ScanResult, error)
}

// Network everything bound to the active chain
type Network struct {
	ChainID  int64
	Config   config.NetworkConfig
	Registry *chain.ContractRegistry
	Pools    PoolReader
	Logs     LogSource
	Gas      GasPricer
}

// Binding returns the contract binding of pair or ErrUnknownPool.
func (n *Network) Binding(pair models.Pair) (*chain.ContractBinding, error) {
	b, ok := n.Registry.Get(pair)
	if !ok {
		return nil, ErrUnknownPool
	}
	return b, nil
}

// NetworkManager holds the active network. Long running flows capture the
// chain id up front and compare it before committing results.
type NetworkManager struct {
	mu       sync.RWMutex
	active   *Network
	onChange []func(prev, next *Network)
}

func NewNetworkManager() *NetworkManager {
	return &NetworkManager{}
}

// OnChange registers a hook run after every switch.
func (m *NetworkManager) OnChange(fn func(prev, next *Network)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Activate makes n the active network; nil deactivates.
func (m *NetworkManager) Activate(n *Network) {
	m.mu.Lock()
	prev := m.active
	m.active = n
	hooks := append([]func(prev, next *Network){}, m.onChange...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(prev, n)
	}
}

// Active returns the active network or ErrNoActiveNetwork.
func (m *NetworkManager) Active() (*Network, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return nil, ErrNoActiveNetwork
	}
	return m.active, nil
}

// ActiveChainID returns 0 when no network is active.
func (m *NetworkManager) ActiveChainID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return 0
	}
	return m.active.ChainID
}

// IsActive reports whether chainID is still the active chain.
func (m *NetworkManager) IsActive(chainID int64) bool {
	return m.ActiveChainID() == chainID
}
