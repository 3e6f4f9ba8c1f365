package chain

import (
	"context"
	"fmt"
	"math/big"

	"privpool-backend/internal/zkhash"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller read-only subset of ethclient.Client
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PoolCaller read calls against pools and their tokens
type PoolCaller struct {
	caller ContractCaller
}

func NewPoolCaller(caller ContractCaller) *PoolCaller {
	return &PoolCaller{caller: caller}
}

// IsKnownRoot asks the pool whether rootHex is one of its recent roots.
func (p *PoolCaller) IsKnownRoot(ctx context.Context, pool common.Address, rootHex string) (bool, error) {
	root, err := zkhash.FromHex(rootHex)
	if err != nil {
		return false, err
	}
	var out bool
	if err := p.callBool(ctx, pool, &out, "isKnownRoot", zkhash.ToBytes32(root)); err != nil {
		return false, err
	}
	return out, nil
}

// IsSpent asks the pool whether nullifierHex was already used.
func (p *PoolCaller) IsSpent(ctx context.Context, pool common.Address, nullifierHex string) (bool, error) {
	var out bool
	if err := p.callBool(ctx, pool, &out, "nullifierHashes", [32]byte(common.HexToHash(nullifierHex))); err != nil {
		return false, err
	}
	return out, nil
}

// Allowance ERC20 allowance(owner, spender)
func (p *PoolCaller) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := ERC20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance: %w", err)
	}
	raw, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("allowance call failed: %w", err)
	}
	values, err := ERC20ABI.Unpack("allowance", raw)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("failed to unpack allowance: %v", err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return amount, nil
}

func (p *PoolCaller) callBool(ctx context.Context, to common.Address, out *bool, method string, args ...interface{}) error {
	data, err := PoolABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}
	raw, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("%s call failed: %w", method, err)
	}
	values, err := PoolABI.Unpack(method, raw)
	if err != nil {
		return fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return fmt.Errorf("%s returned %d values", method, len(values))
	}
	b, ok := values[0].(bool)
	if !ok {
		return fmt.Errorf("%s returned %T", method, values[0])
	}
	*out = b
	return nil
}

// PackDeposit calldata of proxy.deposit(pool, commitment, encryptedNote)
func PackDeposit(pool common.Address, commitmentHex string) ([]byte, error) {
	commitment, err := zkhash.FromHex(commitmentHex)
	if err != nil {
		return nil, err
	}
	return ProxyABI.Pack("deposit", pool, zkhash.ToBytes32(commitment), []byte{})
}

// PackApprove calldata of token.approve(spender, amount)
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}
