package services

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"privpool-backend/internal/chain"
	"privpool-backend/internal/clients"
)

// WithdrawGasLimit gas the relayer is paid for per withdrawal
const WithdrawGasLimit uint64 = 400000

var ErrFeeExceedsAmount = errors.New("fee exceeds the pool amount")

// FeeBreakdown withdrawal fee in base units of the pool currency
type FeeBreakdown struct {
	RelayerFee *big.Int
	GasFee     *big.Int
	TotalFee   *big.Int
	NetAmount  *big.Int
}

// CalculateFee relayer service fee (percent of the amount) plus the gas the
// relayer spends, converted into the pool currency with the relayer's
// ethPrices for tokens.
func CalculateFee(status *clients.RelayerStatus, binding *chain.ContractBinding, gasPrice *big.Int) (*FeeBreakdown, error) {
	if status == nil || gasPrice == nil {
		return nil, fmt.Errorf("relayer status and gas price are required")
	}
	amount, err := binding.AmountWei()
	if err != nil {
		return nil, err
	}

	percent, ok := new(big.Rat).SetString(strconv.FormatFloat(status.TornadoServiceFee, 'f', -1, 64))
	if !ok || percent.Sign() < 0 {
		return nil, fmt.Errorf("invalid relayer fee %v", status.TornadoServiceFee)
	}
	relayerFee := new(big.Rat).Mul(new(big.Rat).SetInt(amount), percent)
	relayerFee.Quo(relayerFee, big.NewRat(100, 1))
	relayerWei := new(big.Int).Quo(relayerFee.Num(), relayerFee.Denom())

	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(WithdrawGasLimit))
	gasFee := gasCost
	if !binding.IsNative() {
		raw, ok := status.EthPrices[strings.ToLower(binding.Pair.Currency)]
		if !ok {
			return nil, fmt.Errorf("relayer has no price for %s", binding.Pair.Currency)
		}
		price, ok := new(big.Int).SetString(raw, 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("invalid relayer price %q for %s", raw, binding.Pair.Currency)
		}
		unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(binding.Decimals)), nil)
		gasFee = new(big.Int).Mul(gasCost, unit)
		gasFee.Quo(gasFee, price)
	}

	total := new(big.Int).Add(relayerWei, gasFee)
	if total.Cmp(amount) >= 0 {
		return nil, ErrFeeExceedsAmount
	}
	return &FeeBreakdown{
		RelayerFee: relayerWei,
		GasFee:     gasFee,
		TotalFee:   total,
		NetAmount:  new(big.Int).Sub(amount, total),
	}, nil
}
