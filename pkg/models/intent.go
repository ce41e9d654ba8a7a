package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DepositIntent is the authorization a user signs so the router can deposit on their behalf
type DepositIntent struct {
	User     common.Address `json:"user"`
	Vault    common.Address `json:"vault"`
	Asset    common.Address `json:"asset"`
	Amount   *big.Int       `json:"amount"`
	Nonce    *big.Int       `json:"nonce"`
	Deadline *big.Int       `json:"deadline"`
}

// Expired reports whether the intent deadline is not strictly after now
func (i DepositIntent) Expired(now time.Time) bool {
	if i.Deadline == nil {
		return true
	}
	return i.Deadline.Cmp(big.NewInt(now.Unix())) <= 0
}

// WithAmount returns a copy of the intent bound to a different amount.
// The copy carries no signature and must be signed again.
func (i DepositIntent) WithAmount(amount *big.Int) DepositIntent {
	i.Amount = new(big.Int).Set(amount)
	return i
}

// SignedIntent pairs an intent with the signature produced over its typed data hash
type SignedIntent struct {
	Intent    DepositIntent  `json:"intent"`
	Signature hexutil.Bytes  `json:"signature"`
	Router    common.Address `json:"router"`
	ChainID   int            `json:"chain_id"`
}

// PendingLocalIntent is the locally cached phase 2 of a two-phase cross-chain deposit.
// It is written right after the bridge leg is submitted and removed once the deposit lands
// or the user dismisses it.
type PendingLocalIntent struct {
	TransactionID    string         `json:"transaction_id"`
	Intent           DepositIntent  `json:"intent"`
	Signature        hexutil.Bytes  `json:"signature"`
	RouterAddress    common.Address `json:"router_address"`
	VaultID          string         `json:"vault_id"`
	EstimatedAmount  *big.Int       `json:"estimated_amount"`
	Owner            common.Address `json:"owner"`
	SourceChain      int            `json:"source_chain"`
	DestinationChain int            `json:"destination_chain"`
	BridgeTool       string         `json:"bridge_tool,omitempty"`
	BridgeTxHash     common.Hash    `json:"bridge_tx_hash"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Signed returns the cached intent together with its signature
func (p PendingLocalIntent) Signed() SignedIntent {
	return SignedIntent{
		Intent:    p.Intent,
		Signature: p.Signature,
		Router:    p.RouterAddress,
		ChainID:   p.DestinationChain,
	}
}

// VaultConfig describes a deposit target
type VaultConfig struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Address       common.Address `json:"address"`
	ChainID       int            `json:"chain_id"`
	Asset         common.Address `json:"asset"`
	AssetDecimals uint8          `json:"asset_decimals"`
	Router        common.Address `json:"router"`
}
