// Package chain wraps the on-chain side of the pools: contract ABIs, the
// per-network contract registry, root checks and event log scanning.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const poolABIJSON = `[
	{"inputs":[{"name":"_root","type":"bytes32"}],"name":"isKnownRoot","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getLastRoot","outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"","type":"bytes32"}],"name":"nullifierHashes","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"commitment","type":"bytes32"},
		{"indexed":false,"name":"leafIndex","type":"uint32"},
		{"indexed":false,"name":"timestamp","type":"uint256"}
	],"name":"Deposit","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":false,"name":"to","type":"address"},
		{"indexed":false,"name":"nullifierHash","type":"bytes32"},
		{"indexed":true,"name":"relayer","type":"address"},
		{"indexed":false,"name":"fee","type":"uint256"}
	],"name":"Withdrawal","type":"event"}
]`

const proxyABIJSON = `[
	{"inputs":[
		{"name":"_tornado","type":"address"},
		{"name":"_commitment","type":"bytes32"},
		{"name":"_encryptedNote","type":"bytes"}
	],"name":"deposit","outputs":[],"stateMutability":"payable","type":"function"}
]`

const erc20ABIJSON = `[
	{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var (
	PoolABI  = mustParseABI(poolABIJSON)
	ProxyABI = mustParseABI(proxyABIJSON)
	ERC20ABI = mustParseABI(erc20ABIJSON)

	DepositEventTopic    = PoolABI.Events["Deposit"].ID
	WithdrawalEventTopic = PoolABI.Events["Withdrawal"].ID
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
