package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Event sync
	// ============================================
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privpool_sync_runs_total",
			Help: "Event sync runs by kind, source and result",
		},
		[]string{"kind", "source", "result"},
	)

	SyncEventsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privpool_sync_events_fetched_total",
			Help: "Events fetched and stored by kind",
		},
		[]string{"kind"},
	)

	SyncIndexerFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privpool_sync_indexer_fallbacks_total",
			Help: "Indexer failures that fell back to on-chain log scanning",
		},
		[]string{"kind"},
	)

	LogScanSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "privpool_log_scan_splits_total",
		Help: "Log range bisections after a provider error",
	})

	// ============================================
	// Merkle tree
	// ============================================
	MerkleRootChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privpool_merkle_root_checks_total",
			Help: "isKnownRoot checks by result (accepted, rejected, error)",
		},
		[]string{"result"},
	)

	MerkleTreeLeaves = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "privpool_merkle_tree_leaves",
			Help: "Leaves currently in the cached tree",
		},
		[]string{"chain_id", "pair"},
	)

	// ============================================
	// Prover worker
	// ============================================
	ProverTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "privpool_prover_task_duration_seconds",
			Help:    "Prover worker task duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"task"},
	)

	ProverQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "privpool_prover_queue_depth",
		Help: "Tasks waiting for the prover worker",
	})

	// ============================================
	// Lifecycles
	// ============================================
	DepositTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privpool_deposit_transitions_total",
			Help: "Deposit status transitions",
		},
		[]string{"status"},
	)

	WithdrawalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privpool_withdrawal_transitions_total",
			Help: "Withdrawal status transitions",
		},
		[]string{"status"},
	)

	RelayerPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privpool_relayer_polls_total",
			Help: "Relayer job status polls by outcome",
		},
		[]string{"outcome"},
	)

	// ============================================
	// NATS
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "privpool_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privpool_nats_messages_published_total",
			Help: "Lifecycle notifications published",
		},
		[]string{"subject", "result"},
	)
)
