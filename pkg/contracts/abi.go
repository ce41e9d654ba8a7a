package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI definition: %v", err))
	}
	return parsed
}

// unpackUint256 decodes a single uint256 return value of method
func unpackUint256(contractABI abi.ABI, method string, data []byte) (*big.Int, error) {
	out, err := contractABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %v", method, err)
	}
	if len(out) == 0 || out[0] == nil {
		return nil, fmt.Errorf("empty %s response", method)
	}
	value, ok := out[0].(*big.Int)
	if !ok || value == nil {
		return nil, fmt.Errorf("invalid %s format", method)
	}
	return value, nil
}

// Call is a decoded contract invocation
type Call struct {
	Method string
	Args   []interface{}
}

// DecodeCall resolves calldata against the router, ERC20 and vault ABIs
func DecodeCall(data []byte) (*Call, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	for _, contractABI := range []abi.ABI{routerABI, erc20ABI, vaultABI} {
		method, err := contractABI.MethodById(data[:4])
		if err != nil {
			continue
		}
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("failed to unpack %s arguments: %v", method.Name, err)
		}
		return &Call{Method: method.Name, Args: args}, nil
	}
	return nil, fmt.Errorf("unknown selector %x", data[:4])
}
