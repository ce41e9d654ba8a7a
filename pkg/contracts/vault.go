package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VaultABI is the subset of ERC4626 used for capacity checks
const VaultABI = `[
	{
		"inputs": [{"internalType": "address", "name": "receiver", "type": "address"}],
		"name": "maxDeposit",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "asset",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var vaultABI = mustParseABI(VaultABI)

// PackMaxDeposit encodes maxDeposit(receiver)
func PackMaxDeposit(receiver common.Address) ([]byte, error) {
	return vaultABI.Pack("maxDeposit", receiver)
}

// UnpackMaxDeposit decodes the maxDeposit return value
func UnpackMaxDeposit(data []byte) (*big.Int, error) {
	return unpackUint256(vaultABI, "maxDeposit", data)
}

// PackAsset encodes asset()
func PackAsset() ([]byte, error) {
	return vaultABI.Pack("asset")
}
