package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ERC20ABI contains the ERC20 functions used for approvals and balance checks
const ERC20ABI = `[
	{
		"constant": true,
		"inputs": [
			{"name": "_owner", "type": "address"},
			{"name": "_spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "_spender", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "balance", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var erc20ABI = mustParseABI(ERC20ABI)

// PackAllowance encodes allowance(owner, spender)
func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return erc20ABI.Pack("allowance", owner, spender)
}

// UnpackAllowance decodes the allowance return value
func UnpackAllowance(data []byte) (*big.Int, error) {
	return unpackUint256(erc20ABI, "allowance", data)
}

// PackApprove encodes approve(spender, amount)
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// PackBalanceOf encodes balanceOf(owner)
func PackBalanceOf(owner common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", owner)
}

// UnpackBalanceOf decodes the balanceOf return value
func UnpackBalanceOf(data []byte) (*big.Int, error) {
	return unpackUint256(erc20ABI, "balanceOf", data)
}

// PackDecimals encodes decimals()
func PackDecimals() ([]byte, error) {
	return erc20ABI.Pack("decimals")
}

// UnpackDecimals decodes the decimals return value
func UnpackDecimals(data []byte) (uint8, error) {
	out, err := erc20ABI.Unpack("decimals", data)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack decimals: %v", err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("empty decimals response")
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("invalid decimals format")
	}
	return decimals, nil
}

// EncodeUint256 returns the ABI encoding of a single uint256 return value
func EncodeUint256(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}
