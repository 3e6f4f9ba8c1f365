package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Database DatabaseConfig           `yaml:"database"`
	Store    StoreConfig              `yaml:"store"`
	Logging  LoggingConfig            `yaml:"logging"`
	Networks map[string]NetworkConfig `yaml:"networks"`
	Indexer  IndexerConfig            `yaml:"indexer"`
	Relayer  RelayerConfig            `yaml:"relayer"`
	Prover   ProverConfig             `yaml:"prover"`
	Vault    VaultConfig              `yaml:"vault"`
	Sync     SyncConfig               `yaml:"sync"`
	NATS     NATSConfig               `yaml:"nats"`
	JWT      JWTConfig                `yaml:"jwt"`

	// DeploymentsFile optional yaml file with pool instances, see deployments.go
	DeploymentsFile string `yaml:"deploymentsFile"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	AllowedIPs []string `yaml:"allowedIPs"` // besides loopback; IPs or CIDRs
}

// DatabaseConfig postgres event store; empty DSN selects the embedded store
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// StoreConfig embedded badger store
type StoreConfig struct {
	Dir string `yaml:"dir"` // empty keeps everything in memory
}

// LoggingConfig logrus settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// NetworkConfig one EVM network
type NetworkConfig struct {
	ChainID       int64    `yaml:"chainId"`
	Name          string   `yaml:"name"`
	RPCEndpoints  []string `yaml:"rpcEndpoints"`
	PrivateKey    string   `yaml:"privateKey"`    // hex, without 0x
	Confirmations uint64   `yaml:"confirmations"` // blocks before a tx counts as confirmed
	GasLimit      uint64   `yaml:"gasLimit"`
	LogRangeLimit uint64   `yaml:"logRangeLimit"` // max blocks per eth_getLogs call
	Enabled       bool     `yaml:"enabled"`
}

// IndexerConfig remote event indexing service
type IndexerConfig struct {
	Endpoint  string  `yaml:"endpoint"`
	Version   string  `yaml:"version"`
	Timeout   int     `yaml:"timeout"`   // seconds
	RateLimit float64 `yaml:"rateLimit"` // requests per second
}

// RelayerConfig withdrawal relayer
type RelayerConfig struct {
	URL          string `yaml:"url"`
	Timeout      int    `yaml:"timeout"`      // seconds
	PollInterval int    `yaml:"pollInterval"` // seconds between job status checks
}

// ProverConfig proving service behind the prover worker
type ProverConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	Timeout   int    `yaml:"timeout"`   // seconds
	QueueSize int    `yaml:"queueSize"` // pending tasks before callers block
}

// VaultConfig encrypted wallet vault
type VaultConfig struct {
	WalletID string `yaml:"walletId"`
	ScryptN  int    `yaml:"scryptN"`
}

// SyncConfig background sync and recovery
type SyncConfig struct {
	WatchInterval    int    `yaml:"watchInterval"`    // seconds between block checks
	RecoveryGapLimit uint32 `yaml:"recoveryGapLimit"` // unused indices before import stops
	MerkleLevels     int    `yaml:"merkleLevels"`
}

// NATSConfig lifecycle notifications
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// JWTConfig API session tokens
type JWTConfig struct {
	Secret     string `yaml:"secret"`
	Expiration int    `yaml:"expiration"` // seconds
}

var AppConfig *Config

// LoadConfig Load configuration file
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return err
	}
	fmt.Printf("✅ [%s] Loading configuration from config file: %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)

	AppConfig = cfg
	return nil
}

// Parse decodes yaml, applies defaults and environment overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyDefaults(&cfg)
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// Default configuration used when no file is given (tests, one-shot commands)
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8088
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Indexer.Version == "" {
		cfg.Indexer.Version = "v1"
	}
	if cfg.Indexer.Timeout == 0 {
		cfg.Indexer.Timeout = 30
	}
	if cfg.Indexer.RateLimit == 0 {
		cfg.Indexer.RateLimit = 5
	}
	if cfg.Relayer.Timeout == 0 {
		cfg.Relayer.Timeout = 30
	}
	if cfg.Relayer.PollInterval == 0 {
		cfg.Relayer.PollInterval = 5
	}
	if cfg.Prover.Timeout == 0 {
		cfg.Prover.Timeout = 600
	}
	if cfg.Prover.QueueSize == 0 {
		cfg.Prover.QueueSize = 16
	}
	if cfg.Vault.WalletID == "" {
		cfg.Vault.WalletID = "default"
	}
	if cfg.Vault.ScryptN == 0 {
		cfg.Vault.ScryptN = 1 << 20
	}
	if cfg.Sync.WatchInterval == 0 {
		cfg.Sync.WatchInterval = 15
	}
	if cfg.Sync.RecoveryGapLimit == 0 {
		cfg.Sync.RecoveryGapLimit = 5
	}
	if cfg.Sync.MerkleLevels == 0 {
		cfg.Sync.MerkleLevels = 20
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "privpool"
	}
	if cfg.JWT.Expiration == 0 {
		cfg.JWT.Expiration = 3600
	}
	for name, network := range cfg.Networks {
		if network.Confirmations == 0 {
			network.Confirmations = 4
		}
		if network.GasLimit == 0 {
			network.GasLimit = 1_500_000
		}
		if network.LogRangeLimit == 0 {
			network.LogRangeLimit = 10_000
		}
		if network.Name == "" {
			network.Name = name
		}
		cfg.Networks[name] = network
	}
}

// overrideFromEnv Override configuration from environment variables
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dir := os.Getenv("STORE_DIR"); dir != "" {
		config.Store.Dir = dir
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if indexer := os.Getenv("INDEXER_URL"); indexer != "" {
		config.Indexer.Endpoint = indexer
	}
	if relayer := os.Getenv("RELAYER_URL"); relayer != "" {
		config.Relayer.URL = relayer
	}
	if prover := os.Getenv("PROVER_URL"); prover != "" {
		config.Prover.BaseURL = prover
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.JWT.Secret = secret
	}

	for networkName, networkConfig := range config.Networks {
		prefix := strings.ToUpper(networkName)

		envPrivateKey := fmt.Sprintf("%s_PRIVATE_KEY", prefix)
		if privateKey := os.Getenv(envPrivateKey); privateKey != "" {
			networkConfig.PrivateKey = privateKey
			fmt.Printf("✅ [Config] Loaded private key for network '%s' from environment variable: %s\n", networkName, envPrivateKey)
		} else if privateKey := os.Getenv("PRIVATE_KEY"); privateKey != "" {
			networkConfig.PrivateKey = privateKey
		}

		envRPC := fmt.Sprintf("%s_RPC_URL", prefix)
		if rpcEndpoints := os.Getenv(envRPC); rpcEndpoints != "" {
			networkConfig.RPCEndpoints = strings.Split(rpcEndpoints, ",")
		}

		envConfirmations := fmt.Sprintf("%s_CONFIRMATIONS", prefix)
		if confirmations := os.Getenv(envConfirmations); confirmations != "" {
			if n, err := strconv.ParseUint(confirmations, 10, 64); err == nil {
				networkConfig.Confirmations = n
			}
		}

		config.Networks[networkName] = networkConfig
	}
}

// GetNetworkConfigByChainID chain ID -> enabled network configuration
func (c *Config) GetNetworkConfigByChainID(chainID int64) (*NetworkConfig, error) {
	for _, network := range c.Networks {
		if network.ChainID == chainID && network.Enabled {
			n := network
			return &n, nil
		}
	}
	return nil, fmt.Errorf("network with chainID %d not found or disabled", chainID)
}

// EnabledNetworks returns the enabled networks keyed by chain id.
func (c *Config) EnabledNetworks() map[int64]NetworkConfig {
	out := make(map[int64]NetworkConfig)
	for _, network := range c.Networks {
		if network.Enabled {
			out[network.ChainID] = network
		}
	}
	return out
}

// Durations

func (c *Config) RelayerPollInterval() time.Duration {
	return time.Duration(c.Relayer.PollInterval) * time.Second
}

func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Sync.WatchInterval) * time.Second
}
