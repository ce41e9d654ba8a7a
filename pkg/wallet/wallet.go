// Package wallet abstracts the account that signs intents and sends transactions.
package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	// ErrUnsupportedChain is returned for chains the wallet has no client for
	ErrUnsupportedChain = errors.New("unsupported chain")
	// ErrUserRejected is returned when the account holder declines a request
	ErrUserRejected = errors.New("user rejected request")
)

// Wallet is the account provider the orchestrator drives. Every chain-bound
// call names its chain explicitly; ConnectedChainID is informational.
type Wallet interface {
	Address() common.Address
	ConnectedChainID() int
	SwitchChain(ctx context.Context, chainID int) error
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
	SendTransaction(ctx context.Context, chainID int, to common.Address, data []byte, value *big.Int) (common.Hash, error)
	ReadContract(ctx context.Context, chainID int, to common.Address, data []byte) ([]byte, error)
	WaitForReceipt(ctx context.Context, chainID int, hash common.Hash) (*types.Receipt, error)
}
