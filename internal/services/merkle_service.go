package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"privpool-backend/internal/chain"
	"privpool-backend/internal/merkle"
	"privpool-backend/internal/metrics"
	"privpool-backend/internal/models"
	"privpool-backend/internal/repository"

	"github.com/sirupsen/logrus"
)

var (
	// ErrTreeCorrupted the rebuilt root is still unknown to the pool
	ErrTreeCorrupted    = errors.New("merkle tree is corrupted")
	// ErrDepositNotInTree the commitment has no deposit event yet
	ErrDepositNotInTree = errors.New("deposit not found in merkle tree")
	errLeafGap          = errors.New("deposit events are not contiguous")
)

// MerkleService keeps one incremental tree per (chain, pair), fed from the
// event store, and validates its root against the pool.
type MerkleService struct {
	repo   repository.EventRepository
	sync   *EventSyncService
	levels int
	logger *logrus.Entry

	mu    sync.Mutex
	trees map[string]*cachedTree
}

type cachedTree struct {
	mu   sync.Mutex
	tree *merkle.Tree
}

func NewMerkleService(repo repository.EventRepository, syncService *EventSyncService, levels int, logger *logrus.Entry) *MerkleService {
	if levels <= 0 {
		levels = merkle.DefaultLevels
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MerkleService{
		repo:   repo,
		sync:   syncService,
		levels: levels,
		logger: logger,
		trees:  make(map[string]*cachedTree),
	}
}

func treeKey(chainID int64, pair models.Pair) string {
	return strconv.FormatInt(chainID, 10) + ":" + pair.Key()
}

func (s *MerkleService) entry(chainID int64, pair models.Pair) *cachedTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := treeKey(chainID, pair)
	ct, ok := s.trees[key]
	if !ok {
		ct = &cachedTree{tree: merkle.New(s.levels)}
		s.trees[key] = ct
	}
	return ct
}

// Reset drops every cached tree of chainID.
func (s *MerkleService) Reset(chainID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strconv.FormatInt(chainID, 10) + ":"
	for key := range s.trees {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.trees, key)
		}
	}
}

// GetRoot syncs both event series of the pool and returns the root of the
// updated tree. forceUpdate refetches everything and rebuilds the tree.
func (s *MerkleService) GetRoot(ctx context.Context, net *Network, binding *chain.ContractBinding, forceUpdate bool) (string, error) {
	var root string
	err := s.refresh(ctx, net, binding, forceUpdate, func(tree *merkle.Tree) {
		root = tree.RootHex()
	})
	return root, err
}

// refresh syncs, appends new leaves and runs read under the tree guard.
func (s *MerkleService) refresh(ctx context.Context, net *Network, binding *chain.ContractBinding, forceUpdate bool, read func(*merkle.Tree)) error {
	if _, err := s.sync.SyncEvents(ctx, net, models.EventKindWithdrawal, binding, forceUpdate); err != nil {
		return err
	}
	if _, err := s.sync.SyncEvents(ctx, net, models.EventKindDeposit, binding, forceUpdate); err != nil {
		return err
	}

	ct := s.entry(net.ChainID, binding.Pair)
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if forceUpdate {
		ct.tree = merkle.New(s.levels)
	}
	leaves, err := s.repo.GetLeavesAfter(ctx, net.ChainID, binding.Pair, ct.tree.LastLeafIndex())
	if err != nil {
		return fmt.Errorf("failed to load leaves: %w", err)
	}
	for _, ev := range leaves {
		if int(ev.LeafIndex) != ct.tree.Len() {
			return fmt.Errorf("%w: expected leaf %d, got %d", errLeafGap, ct.tree.Len(), ev.LeafIndex)
		}
		if err := ct.tree.InsertHex(ev.CommitmentHex); err != nil {
			return err
		}
	}
	metrics.MerkleTreeLeaves.WithLabelValues(strconv.FormatInt(net.ChainID, 10), binding.Pair.Key()).Set(float64(ct.tree.Len()))
	read(ct.tree)
	return nil
}

// GenerateProof returns the inclusion path of n. A root the pool does not
// know triggers exactly one forced rebuild before giving up.
func (s *MerkleService) GenerateProof(ctx context.Context, net *Network, binding *chain.ContractBinding, n *models.Note) (*merkle.Proof, error) {
	proof, err := s.proofOnce(ctx, net, binding, n, false)
	if err == nil {
		return proof, nil
	}
	if !errors.Is(err, ErrTreeCorrupted) && !errors.Is(err, errLeafGap) {
		return nil, err
	}

	s.logger.Warnf("[Merkle] %s tree on chain %d rejected (%v), rebuilding", binding.Pair, net.ChainID, err)
	proof, err = s.proofOnce(ctx, net, binding, n, true)
	if errors.Is(err, errLeafGap) {
		return nil, fmt.Errorf("%w: %v", ErrTreeCorrupted, err)
	}
	return proof, err
}

func (s *MerkleService) proofOnce(ctx context.Context, net *Network, binding *chain.ContractBinding, n *models.Note, forceUpdate bool) (*merkle.Proof, error) {
	var (
		root     string
		proof    *merkle.Proof
		proofErr error
	)
	err := s.refresh(ctx, net, binding, forceUpdate, func(tree *merkle.Tree) {
		root = tree.RootHex()
		proof, proofErr = tree.ProofFor(n.CommitmentHex)
	})
	if err != nil {
		return nil, err
	}

	known, err := net.Pools.IsKnownRoot(ctx, binding.Pool, root)
	if err != nil {
		metrics.MerkleRootChecks.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("isKnownRoot failed: %w", err)
	}
	if !known {
		metrics.MerkleRootChecks.WithLabelValues("rejected").Inc()
		return nil, ErrTreeCorrupted
	}
	metrics.MerkleRootChecks.WithLabelValues("accepted").Inc()

	if proofErr != nil {
		if errors.Is(proofErr, merkle.ErrLeafNotFound) {
			return nil, ErrDepositNotInTree
		}
		return nil, proofErr
	}
	return proof, nil
}
