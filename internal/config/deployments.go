// Pool deployment configuration management
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// PoolInstance one deployed (currency, amount) pool
type PoolInstance struct {
	Currency      string `yaml:"currency" json:"currency"`
	Amount        string `yaml:"amount" json:"amount"`
	Address       string `yaml:"address" json:"address"`
	TokenAddress  string `yaml:"tokenAddress" json:"tokenAddress,omitempty"` // empty for the native asset
	Decimals      uint8  `yaml:"decimals" json:"decimals"`
	DeployedBlock uint64 `yaml:"deployedBlock" json:"deployedBlock"`
}

// NetworkDeployment pools of one chain
type NetworkDeployment struct {
	ChainID      int64          `yaml:"chainId" json:"chainId"`
	NativeSymbol string         `yaml:"nativeSymbol" json:"nativeSymbol"`
	ProxyAddress string         `yaml:"proxyAddress" json:"proxyAddress"`
	Instances    []PoolInstance `yaml:"instances" json:"instances"`
}

// DeploymentsConfig complete deployments file
type DeploymentsConfig struct {
	Version  string                       `yaml:"version" json:"version"`
	Networks map[string]NetworkDeployment `yaml:"networks" json:"networks"`
}

// DeploymentsManager pool deployment lookup
type DeploymentsManager struct {
	config DeploymentsConfig
	mu     sync.RWMutex
}

// NewDeploymentsManager loads the deployments file, falling back to the built-in
// mainnet deployment when the path is empty or unreadable.
func NewDeploymentsManager(path string) *DeploymentsManager {
	manager := &DeploymentsManager{}
	if path == "" {
		manager.config = defaultDeployments()
		return manager
	}
	if err := manager.load(path); err != nil {
		fmt.Printf("⚠️ Unable to load deployments file %s: %v\n", path, err)
		manager.config = defaultDeployments()
	}
	return manager
}

// NewDeploymentsManagerFrom wraps an in-memory deployments config.
func NewDeploymentsManagerFrom(cfg DeploymentsConfig) *DeploymentsManager {
	return &DeploymentsManager{config: cfg}
}

func (m *DeploymentsManager) load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read deployments file: %w", err)
	}
	var cfg DeploymentsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse deployments file: %w", err)
	}
	m.config = cfg
	return nil
}

// GetNetworkByChainID deployment of chainID
func (m *DeploymentsManager) GetNetworkByChainID(chainID int64) (*NetworkDeployment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, network := range m.config.Networks {
		if network.ChainID == chainID {
			n := network
			return &n, true
		}
	}
	return nil, false
}

// GetPool finds one pool instance by currency and amount.
func (m *DeploymentsManager) GetPool(chainID int64, currency, amount string) (*PoolInstance, bool) {
	network, ok := m.GetNetworkByChainID(chainID)
	if !ok {
		return nil, false
	}
	for _, inst := range network.Instances {
		if strings.EqualFold(inst.Currency, currency) && inst.Amount == amount {
			p := inst
			return &p, true
		}
	}
	return nil, false
}

// IsSupported reports whether chainID has any pool deployed.
func (m *DeploymentsManager) IsSupported(chainID int64) bool {
	network, ok := m.GetNetworkByChainID(chainID)
	return ok && len(network.Instances) > 0
}

func defaultDeployments() DeploymentsConfig {
	return DeploymentsConfig{
		Version: "1.0",
		Networks: map[string]NetworkDeployment{
			"mainnet": {
				ChainID:      1,
				NativeSymbol: "ETH",
				ProxyAddress: "0xd90e2f925DA726b50C4Ed8D0Fb90Ad053324F31b",
				Instances: []PoolInstance{
					{Currency: "eth", Amount: "0.1", Address: "0x12D66f87A04A9E220743712cE6d9bB1B5616B8Fc", Decimals: 18, DeployedBlock: 9116966},
					{Currency: "eth", Amount: "1", Address: "0x47CE0C6eD5B0Ce3d3A51fdb1C52DC66a7c3c2936", Decimals: 18, DeployedBlock: 9117609},
					{Currency: "eth", Amount: "10", Address: "0x910Cbd523D972eb0a6f4cAe4618aD62622b39DbF", Decimals: 18, DeployedBlock: 9117720},
					{Currency: "eth", Amount: "100", Address: "0xA160cdAB225685dA1d56aa342Ad8841c3b53f291", Decimals: 18, DeployedBlock: 9161895},
				},
			},
		},
	}
}
