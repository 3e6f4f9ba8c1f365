package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"privpool-backend/internal/config"
	"privpool-backend/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPool = common.HexToAddress("0x12D66f87A04A9E220743712cE6d9bB1B5616B8Fc")

type fakeFilterer struct {
	mu       sync.Mutex
	head     uint64
	logs     []types.Log
	maxSpan  uint64 // ranges wider than this fail
	queries  [][2]uint64
	failHard bool
}

func (f *fakeFilterer) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeFilterer) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	f.queries = append(f.queries, [2]uint64{from, to})
	if f.failHard {
		return nil, errors.New("provider down")
	}
	if f.maxSpan > 0 && to-from+1 > f.maxSpan {
		return nil, errors.New("query returned more than 10000 results")
	}
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to && lg.Topics[0] == q.Topics[0][0] {
			out = append(out, lg)
		}
	}
	return out, nil
}

func depositLog(t *testing.T, block uint64, leaf uint32, commitment common.Hash) types.Log {
	data, err := PoolABI.Events["Deposit"].Inputs.NonIndexed().Pack(leaf, big.NewInt(1700000000))
	require.NoError(t, err)
	return types.Log{
		Address:     testPool,
		Topics:      []common.Hash{DepositEventTopic, commitment},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
	}
}

func withdrawalLog(t *testing.T, block uint64, nullifier common.Hash) types.Log {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	data, err := PoolABI.Events["Withdrawal"].Inputs.NonIndexed().Pack(to, [32]byte(nullifier), big.NewInt(42))
	require.NoError(t, err)
	relayer := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	return types.Log{
		Address:     testPool,
		Topics:      []common.Hash{WithdrawalEventTopic, common.BytesToHash(relayer.Bytes())},
		Data:        data,
		BlockNumber: block,
	}
}

func TestDecodeDepositLog(t *testing.T) {
	commitment := common.HexToHash("0x0abc")
	ev, err := DecodeDepositLog(depositLog(t, 7, 3, commitment))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), ev.LeafIndex)
	assert.Equal(t, commitment.Hex(), ev.CommitmentHex)
	assert.Equal(t, int64(1700000000), ev.Timestamp)
	assert.Equal(t, uint64(7), ev.BlockNumber)

	_, err = DecodeDepositLog(withdrawalLog(t, 1, commitment))
	assert.Error(t, err)
}

func TestDecodeWithdrawalLog(t *testing.T) {
	nullifier := common.HexToHash("0x0def")
	ev, err := DecodeWithdrawalLog(withdrawalLog(t, 9, nullifier))
	require.NoError(t, err)
	assert.Equal(t, nullifier.Hex(), ev.NullifierHex)
	assert.Equal(t, "42", ev.Fee)
	assert.Equal(t, common.HexToAddress("0xaa").Hex(), ev.To)
}

func TestLogScannerChunksAndSplits(t *testing.T) {
	f := &fakeFilterer{head: 99, maxSpan: 10}
	for i := uint32(0); i < 5; i++ {
		f.logs = append(f.logs, depositLog(t, uint64(i)*20+1, i, common.BigToHash(big.NewInt(int64(i+1)))))
	}
	f.logs = append(f.logs, withdrawalLog(t, 50, common.HexToHash("0x01")))

	s := NewLogScanner(f, 40, nil)
	res, err := s.Scan(context.Background(), testPool, models.EventKindDeposit, 0)
	require.NoError(t, err)
	require.Len(t, res.Deposits, 5)
	assert.Empty(t, res.Withdrawals)
	assert.Equal(t, uint64(99), res.ToBlock)
	for i, ev := range res.Deposits {
		assert.Equal(t, uint32(i), ev.LeafIndex)
	}

	// every successful query respected the provider limit
	for _, q := range f.queries {
		assert.LessOrEqual(t, q[0], q[1])
	}
}

func TestLogScannerFromAfterHead(t *testing.T) {
	f := &fakeFilterer{head: 10}
	res, err := NewLogScanner(f, 0, nil).Scan(context.Background(), testPool, models.EventKindWithdrawal, 11)
	require.NoError(t, err)
	assert.Empty(t, res.Withdrawals)
	assert.Empty(t, f.queries)
}

func TestLogScannerSingleBlockFailure(t *testing.T) {
	f := &fakeFilterer{head: 3, failHard: true}
	_, err := NewLogScanner(f, 10, nil).Scan(context.Background(), testPool, models.EventKindDeposit, 0)
	assert.Error(t, err)
}

func TestContractRegistry(t *testing.T) {
	dep := &config.NetworkDeployment{
		ChainID:      1,
		ProxyAddress: "0xd90e2f925DA726b50C4Ed8D0Fb90Ad053324F31b",
		Instances: []config.PoolInstance{
			{Currency: "ETH", Amount: "0.1", Address: "0x12D66f87A04A9E220743712cE6d9bB1B5616B8Fc", Decimals: 18},
			{Currency: "dai", Amount: "100", Address: "0xD4B88Df4D29F5CedD6857912842cff3b20C8Cfa3",
				TokenAddress: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
		},
	}
	r, err := NewContractRegistry(1, dep, map[string]uint32{"eth-0.1": 4})
	require.NoError(t, err)

	pairs := r.Pairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, "dai", pairs[0].Currency)

	eth, ok := r.Get(models.NewPair("eth", "0.1"))
	require.True(t, ok)
	assert.True(t, eth.IsNative())
	assert.Equal(t, uint32(4), eth.NoteCount)
	wei, err := eth.AmountWei()
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000", wei.String())

	dai, ok := r.Get(models.NewPair("DAI", "100"))
	require.True(t, ok)
	assert.False(t, dai.IsNative())

	_, err = NewContractRegistry(1, &config.NetworkDeployment{Instances: []config.PoolInstance{{Address: "nope"}}}, nil)
	assert.Error(t, err)
}

func TestToWei(t *testing.T) {
	v, err := ToWei("1.5", 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000", v.String())

	_, err = ToWei("0.0000001", 6)
	assert.Error(t, err)
	_, err = ToWei("abc", 18)
	assert.Error(t, err)
}

type fakeCaller struct {
	known bool
}

func (c *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return PoolABI.Methods["isKnownRoot"].Outputs.Pack(c.known)
}

func TestPoolCallerIsKnownRoot(t *testing.T) {
	p := NewPoolCaller(&fakeCaller{known: true})
	ok, err := p.IsKnownRoot(context.Background(), testPool, "0x01")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = p.IsKnownRoot(context.Background(), testPool, "0xzz")
	assert.Error(t, err)
}

func TestPackDeposit(t *testing.T) {
	data, err := PackDeposit(testPool, "0x01")
	require.NoError(t, err)
	assert.Equal(t, ProxyABI.Methods["deposit"].ID, data[:4])
}
