package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

// RouterABI is the ABI of the vault deposit router
const RouterABI = `[
	{
		"inputs": [{"internalType": "address", "name": "user", "type": "address"}],
		"name": "nonces",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "user", "type": "address"},
					{"internalType": "address", "name": "vault", "type": "address"},
					{"internalType": "address", "name": "asset", "type": "address"},
					{"internalType": "uint256", "name": "amount", "type": "uint256"},
					{"internalType": "uint256", "name": "nonce", "type": "uint256"},
					{"internalType": "uint256", "name": "deadline", "type": "uint256"}
				],
				"internalType": "struct DepositIntent",
				"name": "intent",
				"type": "tuple"
			},
			{"internalType": "bytes", "name": "signature", "type": "bytes"}
		],
		"name": "depositWithIntent",
		"outputs": [{"internalType": "uint256", "name": "shares", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "user", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "vault", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "shares", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "nonce", "type": "uint256"}
		],
		"name": "IntentDeposited",
		"type": "event"
	}
]`

var routerABI = mustParseABI(RouterABI)

// RouterIntent mirrors the router's DepositIntent struct for ABI packing
type RouterIntent struct {
	User     common.Address
	Vault    common.Address
	Asset    common.Address
	Amount   *big.Int
	Nonce    *big.Int
	Deadline *big.Int
}

// IntentDeposited is the router event emitted by a successful deposit
type IntentDeposited struct {
	User   common.Address
	Vault  common.Address
	Amount *big.Int
	Shares *big.Int
	Nonce  *big.Int
}

func toRouterIntent(i models.DepositIntent) RouterIntent {
	return RouterIntent{
		User:     i.User,
		Vault:    i.Vault,
		Asset:    i.Asset,
		Amount:   i.Amount,
		Nonce:    i.Nonce,
		Deadline: i.Deadline,
	}
}

// PackNonces encodes a nonces(user) call
func PackNonces(user common.Address) ([]byte, error) {
	return routerABI.Pack("nonces", user)
}

// UnpackNonces decodes the nonces(user) return value
func UnpackNonces(data []byte) (*big.Int, error) {
	return unpackUint256(routerABI, "nonces", data)
}

// PackDepositWithIntent encodes a depositWithIntent(intent, signature) call
func PackDepositWithIntent(intent models.DepositIntent, signature []byte) ([]byte, error) {
	if intent.Amount == nil || intent.Nonce == nil || intent.Deadline == nil {
		return nil, fmt.Errorf("intent has unset numeric fields")
	}
	return routerABI.Pack("depositWithIntent", toRouterIntent(intent), signature)
}

// UnpackDepositWithIntent decodes depositWithIntent calldata including the selector
func UnpackDepositWithIntent(data []byte) (models.DepositIntent, []byte, error) {
	if len(data) < 4 {
		return models.DepositIntent{}, nil, fmt.Errorf("calldata too short")
	}
	method, ok := routerABI.Methods["depositWithIntent"]
	if !ok || string(method.ID) != string(data[:4]) {
		return models.DepositIntent{}, nil, fmt.Errorf("not a depositWithIntent call")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return models.DepositIntent{}, nil, fmt.Errorf("failed to unpack depositWithIntent: %v", err)
	}
	intent := *abi.ConvertType(args[0], new(RouterIntent)).(*RouterIntent)
	signature, ok := args[1].([]byte)
	if !ok {
		return models.DepositIntent{}, nil, fmt.Errorf("invalid signature argument")
	}
	return models.DepositIntent{
		User:     intent.User,
		Vault:    intent.Vault,
		Asset:    intent.Asset,
		Amount:   intent.Amount,
		Nonce:    intent.Nonce,
		Deadline: intent.Deadline,
	}, signature, nil
}

// ParseIntentDeposited finds the router deposit event in a receipt
func ParseIntentDeposited(router common.Address, receipt *types.Receipt) (*IntentDeposited, bool) {
	if receipt == nil {
		return nil, false
	}
	event := routerABI.Events["IntentDeposited"]
	for _, l := range receipt.Logs {
		if l.Address != router || len(l.Topics) != 3 || l.Topics[0] != event.ID {
			continue
		}
		out := &IntentDeposited{
			User:  common.BytesToAddress(l.Topics[1].Bytes()),
			Vault: common.BytesToAddress(l.Topics[2].Bytes()),
		}
		values, err := event.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil || len(values) != 3 {
			continue
		}
		out.Amount, _ = values[0].(*big.Int)
		out.Shares, _ = values[1].(*big.Int)
		out.Nonce, _ = values[2].(*big.Int)
		return out, true
	}
	return nil, false
}

// PackIntentDepositedLog builds the log a router emits for a deposit
func PackIntentDepositedLog(router common.Address, user, vault common.Address, amount, shares, nonce *big.Int) (*types.Log, error) {
	event := routerABI.Events["IntentDeposited"]
	data, err := event.Inputs.NonIndexed().Pack(amount, shares, nonce)
	if err != nil {
		return nil, err
	}
	return &types.Log{
		Address: router,
		Topics:  []common.Hash{event.ID, common.BytesToHash(user.Bytes()), common.BytesToHash(vault.Bytes())},
		Data:    data,
	}, nil
}
