package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"privpool-backend/internal/chain"
	"privpool-backend/internal/clients"
	"privpool-backend/internal/config"
	"privpool-backend/internal/db"
	"privpool-backend/internal/events"
	"privpool-backend/internal/handlers"
	"privpool-backend/internal/middleware"
	"privpool-backend/internal/repository"
	"privpool-backend/internal/router"
	"privpool-backend/internal/services"
	"privpool-backend/internal/txengine"
	"privpool-backend/internal/vault"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

// ServiceContainer owns every long-lived component of the backend.
type ServiceContainer struct {
	Config *config.Config
	Logger *logrus.Entry

	// Stores
	EventStore  repository.EventRepository
	walletStore *badgerhold.Store

	// Wallet
	Vault   *vault.Vault
	Pending *vault.PendingStore
	Keys    *services.KeyRing

	// Outside world
	NATSClient  *clients.NATSClient
	Notifier    *events.Notifier
	Indexer     *clients.IndexerClient
	Prover      *clients.ProverClient
	Engine      *txengine.EthEngine
	Deployments *config.DeploymentsManager

	// Services
	Networks    *services.NetworkManager
	Worker      *services.ProverWorker
	Sync        *services.EventSyncService
	Merkle      *services.MerkleService
	Deposits    *services.DepositService
	Withdrawals *services.WithdrawalService
	Wallet      *services.WalletService
	Watcher     *services.BlockWatcher
	Tokens      *middleware.TokenManager

	mu       sync.Mutex
	ethConns map[int64]*ethclient.Client
}

// NewServiceContainer wires the backend from cfg. Nothing runs until Start.
func NewServiceContainer(cfg *config.Config, logger *logrus.Entry) (*ServiceContainer, error) {
	c := &ServiceContainer{
		Config:   cfg,
		Logger:   logger,
		ethConns: make(map[int64]*ethclient.Client),
	}
	logger.Info("[App] initializing service container")

	if err := c.initStores(); err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("failed to initialize stores: %w", err)
	}
	c.initClients()
	if err := c.initServices(); err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("[App] service container initialized")
	return c, nil
}

func (c *ServiceContainer) initStores() error {
	cfg := c.Config
	storeLogger := c.Logger.WithField("component", "badger")

	if cfg.Database.DSN != "" {
		gormDB, err := db.Open(cfg.Database, c.Logger)
		if err != nil {
			return err
		}
		c.EventStore = repository.NewGormEventRepository(gormDB)
		c.Logger.Info("[App] event store: postgres")
	} else {
		dir := ""
		if cfg.Store.Dir != "" {
			dir = filepath.Join(cfg.Store.Dir, "events")
		}
		store, err := repository.OpenBadgerStore(dir, storeLogger)
		if err != nil {
			return fmt.Errorf("failed to open event store: %w", err)
		}
		c.EventStore = repository.NewBadgerEventRepository(store)
		c.Logger.Infof("[App] event store: badger (%s)", describeDir(dir))
	}

	walletDir := ""
	if cfg.Store.Dir != "" {
		walletDir = filepath.Join(cfg.Store.Dir, "wallet")
	}
	store, err := repository.OpenBadgerStore(walletDir, storeLogger)
	if err != nil {
		return fmt.Errorf("failed to open wallet store: %w", err)
	}
	c.walletStore = store
	c.Vault = vault.New(repository.NewVaultBlobRepository(store), cfg.Vault.WalletID, cfg.Vault.ScryptN, c.Logger)
	c.Pending = vault.NewPendingStore(repository.NewPendingWithdrawalRepository(store))
	c.Keys = services.NewKeyRing()
	return nil
}

func describeDir(dir string) string {
	if dir == "" {
		return "in memory"
	}
	return dir
}

func (c *ServiceContainer) initClients() {
	cfg := c.Config

	c.Indexer = clients.NewIndexerClient(cfg.Indexer, c.Logger)
	if !c.Indexer.Enabled() {
		c.Logger.Info("[App] no indexer configured, events come from eth_getLogs")
	}
	c.Prover = clients.NewProverClient(cfg.Prover.BaseURL, cfg.Prover.Timeout)

	if cfg.NATS.URL != "" {
		natsClient, err := clients.NewNATSClient(cfg.NATS, c.Logger)
		if err != nil {
			c.Logger.Warnf("[App] NATS unavailable, lifecycle notifications disabled: %v", err)
		} else {
			c.NATSClient = natsClient
		}
	}
	if c.NATSClient != nil {
		c.Notifier = events.NewNotifier(c.NATSClient, cfg.NATS.SubjectPrefix)
	} else {
		c.Notifier = events.NewNotifier(nil, cfg.NATS.SubjectPrefix)
	}

	c.Engine = txengine.NewEthEngine(txengine.Options{}, c.Logger)
	c.Deployments = config.NewDeploymentsManager(cfg.DeploymentsFile)
}

func (c *ServiceContainer) initServices() error {
	cfg := c.Config

	tokens, err := middleware.NewTokenManager(cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Second, c.Logger)
	if err != nil {
		return err
	}
	c.Tokens = tokens

	c.Networks = services.NewNetworkManager()
	c.Worker = services.NewProverWorker(c.Prover, cfg.Prover.QueueSize, c.Logger)
	c.Sync = services.NewEventSyncService(c.EventStore, c.Indexer, c.Logger)
	c.Merkle = services.NewMerkleService(c.EventStore, c.Sync, cfg.Sync.MerkleLevels, c.Logger)

	c.Deposits = services.NewDepositService(services.DepositServiceConfig{
		Vault:            c.Vault,
		Keys:             c.Keys,
		Networks:         c.Networks,
		Engine:           c.Engine,
		Confirmer:        c.Engine,
		Worker:           c.Worker,
		Sync:             c.Sync,
		Events:           c.EventStore,
		Notifier:         c.Notifier,
		RecoveryGapLimit: cfg.Sync.RecoveryGapLimit,
		Logger:           c.Logger,
	})

	relayerTimeout := cfg.Relayer.Timeout
	c.Withdrawals = services.NewWithdrawalService(services.WithdrawalServiceConfig{
		Vault:        c.Vault,
		Pending:      c.Pending,
		Networks:     c.Networks,
		Merkle:       c.Merkle,
		Worker:       c.Worker,
		Confirmer:    c.Engine,
		Relayers:     func(url string) services.Relayer { return clients.NewRelayerClient(url, relayerTimeout) },
		DefaultRelay: cfg.Relayer.URL,
		PollInterval: cfg.RelayerPollInterval(),
		Notifier:     c.Notifier,
		Logger:       c.Logger,
	})

	c.Wallet = services.NewWalletService(c.Vault, c.Keys, c.Networks, c.Deposits, c.Withdrawals, c.Merkle, c.NetworkFactory, c.Logger)
	c.Watcher = services.NewBlockWatcher(c.Networks, c.Vault.IsUnlocked, c.Sync, c.Deposits, c.Withdrawals, cfg.WatchInterval(), c.Logger)
	return nil
}

// NetworkFactory dials chainID, binds its pools and registers it with the
// transaction engine.
func (c *ServiceContainer) NetworkFactory(ctx context.Context, chainID int64, noteCounts map[string]uint32) (*services.Network, error) {
	netCfg, err := c.Config.GetNetworkConfigByChainID(chainID)
	if err != nil {
		return nil, err
	}
	deployment, ok := c.Deployments.GetNetworkByChainID(chainID)
	if !ok {
		return nil, fmt.Errorf("no pools deployed on chain %d", chainID)
	}
	registry, err := chain.NewContractRegistry(chainID, deployment, noteCounts)
	if err != nil {
		return nil, err
	}

	client, err := c.dial(ctx, chainID, netCfg.RPCEndpoints)
	if err != nil {
		return nil, err
	}

	if netCfg.PrivateKey != "" {
		signer, err := txengine.NewPrivateKeySigner(netCfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private key for chain %d: %w", chainID, err)
		}
		c.Engine.RegisterChain(chainID, txengine.ChainConfig{
			Backend:       client,
			Signer:        signer,
			Confirmations: netCfg.Confirmations,
			GasLimit:      netCfg.GasLimit,
		})
	} else {
		c.Logger.Warnf("[App] no private key for chain %d, deposits are disabled", chainID)
	}

	return &services.Network{
		ChainID:  chainID,
		Config:   *netCfg,
		Registry: registry,
		Pools:    chain.NewPoolCaller(client),
		Logs:     chain.NewLogScanner(client, netCfg.LogRangeLimit, c.Logger),
		Gas:      client,
	}, nil
}

func (c *ServiceContainer) dial(ctx context.Context, chainID int64, endpoints []string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.ethConns[chainID]; ok {
		return client, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	client, err := chain.Dial(dialCtx, endpoints, c.Logger)
	if err != nil {
		return nil, err
	}
	c.ethConns[chainID] = client
	return client, nil
}

// Router builds the HTTP API over the container's services.
func (c *ServiceContainer) Router() *gin.Engine {
	h := router.Handlers{
		Wallet:      handlers.NewWalletHandler(c.Wallet, c.Networks, c.Tokens, c.Config.Vault.WalletID, c.Logger),
		Pools:       handlers.NewPoolHandler(c.Networks, c.Merkle, c.Sync),
		Deposits:    handlers.NewDepositHandler(c.Deposits),
		Withdrawals: handlers.NewWithdrawalHandler(c.Withdrawals),
	}
	localOnly := middleware.NewLocalhostOnly(c.Logger, c.Config.Server.AllowedIPs)
	return router.SetupRouter(h, c.Tokens, localOnly, c.Logger)
}

// Start launches the background workers.
func (c *ServiceContainer) Start() {
	c.Worker.Start()
	c.Watcher.Start()
}

// Cleanup stops workers and closes stores and connections.
func (c *ServiceContainer) Cleanup() {
	c.Logger.Info("[App] cleaning up service container")

	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	if c.Withdrawals != nil {
		c.Withdrawals.Stop()
	}
	if c.Worker != nil {
		c.Worker.Stop()
	}
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}

	c.mu.Lock()
	for _, client := range c.ethConns {
		client.Close()
	}
	c.ethConns = map[int64]*ethclient.Client{}
	c.mu.Unlock()

	if c.EventStore != nil {
		if err := c.EventStore.Close(); err != nil {
			c.Logger.Warnf("[App] event store close: %v", err)
		}
	}
	if c.walletStore != nil {
		if err := c.walletStore.Close(); err != nil {
			c.Logger.Warnf("[App] wallet store close: %v", err)
		}
	}
}
