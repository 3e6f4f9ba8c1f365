package chain

import (
	"context"
	"fmt"
	"math/big"

	"privpool-backend/internal/metrics"
	"privpool-backend/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// DefaultLogRangeLimit blocks per eth_getLogs call when the network sets none
const DefaultLogRangeLimit uint64 = 10000

// LogFilterer log access subset of ethclient.Client
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// LogScanner reads pool events straight from the node. Ranges are chunked
// to the provider limit and bisected when the provider rejects a chunk.
type LogScanner struct {
	client     LogFilterer
	rangeLimit uint64
	logger     *logrus.Entry
}

func NewLogScanner(client LogFilterer, rangeLimit uint64, logger *logrus.Entry) *LogScanner {
	if rangeLimit == 0 {
		rangeLimit = DefaultLogRangeLimit
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogScanner{client: client, rangeLimit: rangeLimit, logger: logger}
}

// ScanResult events found in [FromBlock, ToBlock]
type ScanResult struct {
	Deposits    []models.DepositEvent
	Withdrawals []models.WithdrawalEvent
	ToBlock     uint64
}

// Scan collects kind events of pool from fromBlock up to the current head.
func (s *LogScanner) Scan(ctx context.Context, pool common.Address, kind models.EventKind, fromBlock uint64) (*ScanResult, error) {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}
	result := &ScanResult{ToBlock: head}
	if fromBlock > head {
		return result, nil
	}

	topic := DepositEventTopic
	if kind == models.EventKindWithdrawal {
		topic = WithdrawalEventTopic
	}

	for start := fromBlock; start <= head; start += s.rangeLimit {
		end := start + s.rangeLimit - 1
		if end > head {
			end = head
		}
		logs, err := s.scanRange(ctx, pool, topic, start, end)
		if err != nil {
			return nil, err
		}
		for _, lg := range logs {
			if lg.Removed {
				continue
			}
			switch kind {
			case models.EventKindDeposit:
				ev, err := DecodeDepositLog(lg)
				if err != nil {
					s.logger.Warnf("[LogScanner] skipping malformed deposit log %s: %v", lg.TxHash.Hex(), err)
					continue
				}
				result.Deposits = append(result.Deposits, *ev)
			case models.EventKindWithdrawal:
				ev, err := DecodeWithdrawalLog(lg)
				if err != nil {
					s.logger.Warnf("[LogScanner] skipping malformed withdrawal log %s: %v", lg.TxHash.Hex(), err)
					continue
				}
				result.Withdrawals = append(result.Withdrawals, *ev)
			}
		}
	}

	s.logger.Debugf("[LogScanner] %s events of %s in [%d, %d]: %d deposits, %d withdrawals",
		kind, pool.Hex(), fromBlock, head, len(result.Deposits), len(result.Withdrawals))
	return result, nil
}

func (s *LogScanner) scanRange(ctx context.Context, pool common.Address, topic common.Hash, from, to uint64) ([]types.Log, error) {
	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{pool},
		Topics:    [][]common.Hash{{topic}},
	})
	if err == nil {
		return logs, nil
	}
	if from >= to || ctx.Err() != nil {
		return nil, fmt.Errorf("failed to get logs [%d, %d]: %w", from, to, err)
	}

	metrics.LogScanSplits.Inc()
	mid := from + (to-from)/2
	s.logger.Debugf("[LogScanner] range [%d, %d] rejected (%v), splitting at %d", from, to, err, mid)

	left, err := s.scanRange(ctx, pool, topic, from, mid)
	if err != nil {
		return nil, err
	}
	right, err := s.scanRange(ctx, pool, topic, mid+1, to)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// DecodeDepositLog decodes Deposit(bytes32 indexed commitment, uint32 leafIndex, uint256 timestamp).
func DecodeDepositLog(lg types.Log) (*models.DepositEvent, error) {
	if len(lg.Topics) < 2 || lg.Topics[0] != DepositEventTopic {
		return nil, fmt.Errorf("not a deposit log")
	}
	values, err := PoolABI.Unpack("Deposit", lg.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("deposit log has %d values", len(values))
	}
	leafIndex, ok := values[0].(uint32)
	if !ok {
		return nil, fmt.Errorf("unexpected leafIndex type %T", values[0])
	}
	timestamp, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected timestamp type %T", values[1])
	}
	return &models.DepositEvent{
		LeafIndex:     leafIndex,
		CommitmentHex: lg.Topics[1].Hex(),
		Timestamp:     timestamp.Int64(),
		TxHash:        lg.TxHash.Hex(),
		BlockNumber:   lg.BlockNumber,
	}, nil
}

// DecodeWithdrawalLog decodes Withdrawal(address to, bytes32 nullifierHash, address indexed relayer, uint256 fee).
func DecodeWithdrawalLog(lg types.Log) (*models.WithdrawalEvent, error) {
	if len(lg.Topics) < 1 || lg.Topics[0] != WithdrawalEventTopic {
		return nil, fmt.Errorf("not a withdrawal log")
	}
	values, err := PoolABI.Unpack("Withdrawal", lg.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("withdrawal log has %d values", len(values))
	}
	to, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected to type %T", values[0])
	}
	nullifier, ok := values[1].([32]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected nullifierHash type %T", values[1])
	}
	fee, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected fee type %T", values[2])
	}
	return &models.WithdrawalEvent{
		NullifierHex: common.Hash(nullifier).Hex(),
		To:           to.Hex(),
		Fee:          fee.String(),
		TxHash:       lg.TxHash.Hex(),
		BlockNumber:  lg.BlockNumber,
	}, nil
}
