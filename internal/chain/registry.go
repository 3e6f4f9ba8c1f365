package chain

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"privpool-backend/internal/config"
	"privpool-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// ContractBinding everything needed to talk to one pool
type ContractBinding struct {
	Pair          models.Pair
	Pool          common.Address
	Proxy         common.Address
	Token         *common.Address // nil for the native asset
	Decimals      uint8
	DeployedBlock uint64
	NoteCount     uint32 // persisted derivation index to resume from
}

// IsNative reports whether deposits transfer the chain's native asset.
func (b *ContractBinding) IsNative() bool {
	return b.Token == nil
}

// AmountWei pool denomination in the smallest unit of the currency.
func (b *ContractBinding) AmountWei() (*big.Int, error) {
	return ToWei(b.Pair.Amount, b.Decimals)
}

// ContractRegistry typed pair -> binding map for one network. It is built on
// network activation and thrown away on network change.
type ContractRegistry struct {
	chainID  int64
	bindings map[models.Pair]*ContractBinding
}

// NewContractRegistry builds the registry of chainID from its deployment;
// noteCounts maps pair keys to persisted derivation indices.
func NewContractRegistry(chainID int64, deployment *config.NetworkDeployment, noteCounts map[string]uint32) (*ContractRegistry, error) {
	r := &ContractRegistry{
		chainID:  chainID,
		bindings: make(map[models.Pair]*ContractBinding),
	}
	if deployment == nil {
		return r, nil
	}
	if deployment.ProxyAddress != "" && !common.IsHexAddress(deployment.ProxyAddress) {
		return nil, fmt.Errorf("invalid proxy address %q", deployment.ProxyAddress)
	}
	proxy := common.HexToAddress(deployment.ProxyAddress)

	for _, inst := range deployment.Instances {
		if !common.IsHexAddress(inst.Address) {
			return nil, fmt.Errorf("invalid pool address %q for %s %s", inst.Address, inst.Amount, inst.Currency)
		}
		pair := models.NewPair(inst.Currency, inst.Amount)
		b := &ContractBinding{
			Pair:          pair,
			Pool:          common.HexToAddress(inst.Address),
			Proxy:         proxy,
			Decimals:      inst.Decimals,
			DeployedBlock: inst.DeployedBlock,
			NoteCount:     noteCounts[pair.Key()],
		}
		if inst.TokenAddress != "" {
			if !common.IsHexAddress(inst.TokenAddress) {
				return nil, fmt.Errorf("invalid token address %q", inst.TokenAddress)
			}
			token := common.HexToAddress(inst.TokenAddress)
			b.Token = &token
		}
		r.bindings[pair] = b
	}
	return r, nil
}

func (r *ContractRegistry) ChainID() int64 { return r.chainID }

// Get returns the binding of pair.
func (r *ContractRegistry) Get(pair models.Pair) (*ContractBinding, bool) {
	b, ok := r.bindings[models.NewPair(pair.Currency, pair.Amount)]
	return b, ok
}

// Pairs every registered pair, sorted by currency then amount.
func (r *ContractRegistry) Pairs() []models.Pair {
	out := make([]models.Pair, 0, len(r.bindings))
	for p := range r.bindings {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Currency != out[j].Currency {
			return out[i].Currency < out[j].Currency
		}
		return out[i].Amount < out[j].Amount
	})
	return out
}

// ToWei converts a decimal amount string into base units.
func ToWei(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	r, ok := new(big.Rat).SetString(amount)
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	return new(big.Int).Set(r.Num()), nil
}
