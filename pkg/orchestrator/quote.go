package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/chains"
	"github.com/speedrun-hq/vault-depositor/pkg/contracts"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/quoteclient"
)

// QuoteParams describe the deposit a quote is prepared for
type QuoteParams struct {
	Vault     models.VaultConfig
	FromChain int
	FromToken common.Address
	Amount    *big.Int
	// Max deposits the whole token balance net of the protocol fee; Amount is ignored
	Max bool
}

// PrepareQuote checks vault capacity and fetches the quote converting the source
// asset into the vault asset. Deposits of the vault asset on its own chain get a
// direct quote without calling the quote service. Capacity is read before any quote
// is requested; for other source assets the quoted minimum output is compared
// against it afterwards since the source amount is in different units.
func (o *Orchestrator) PrepareQuote(ctx context.Context, p QuoteParams) (*models.Quote, error) {
	amount := p.Amount
	if p.Max {
		spendable, err := o.SpendableBalance(ctx, p.FromChain, p.FromToken)
		if err != nil {
			return nil, err
		}
		amount = spendable
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be greater than 0")
	}

	vault := p.Vault
	if p.FromChain == vault.ChainID && chains.SameToken(p.FromToken, vault.Asset) {
		if err := o.checkCapacity(ctx, vault, amount); err != nil {
			return nil, err
		}
		return directQuote(vault, amount), nil
	}

	capacity, err := o.vaultCapacity(ctx, vault)
	if err != nil {
		return nil, err
	}
	if capacity.Sign() == 0 {
		return nil, fmt.Errorf("%w: vault %s accepts no deposits", ErrCapacityExceeded, vault.Address.Hex())
	}

	user := o.wallet.Address()
	quote, err := o.quotes.GetQuote(ctx, models.QuoteRequest{
		FromChain:   p.FromChain,
		ToChain:     vault.ChainID,
		FromToken:   p.FromToken,
		ToToken:     vault.Asset,
		FromAmount:  amount,
		FromAddress: user,
		ToAddress:   user,
		Slippage:    o.opts.Slippage,
	})
	if errors.Is(err, quoteclient.ErrNoRoute) {
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	if err != nil {
		return nil, err
	}

	if err := exceedsCapacity(quote.MinimumOut(), capacity); err != nil {
		return nil, err
	}

	o.logger.InfoWithChain(p.FromChain, "Quote %s via %s: %s -> %s (min %s), fees $%s, ~%v",
		quote.ID, quote.Tool, quote.FromAmount, quote.ToAmount, quote.MinimumOut(), quote.Fees.Total().StringFixed(2), quote.EstimatedDuration)
	return quote, nil
}

// SpendableBalance returns the connected account's token balance net of the protocol fee
func (o *Orchestrator) SpendableBalance(ctx context.Context, chainID int, token common.Address) (*big.Int, error) {
	if chains.IsNativeToken(token) {
		return nil, fmt.Errorf("full-balance deposits of native tokens are not supported")
	}
	balance, err := o.balanceOf(ctx, chainID, token, o.wallet.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return bps(balance, -o.opts.Buffers.ProtocolFeeBps), nil
}

// directQuote describes a deposit of the vault asset on its own chain
func directQuote(vault models.VaultConfig, amount *big.Int) *models.Quote {
	return &models.Quote{
		Tool:         "direct",
		FromChain:    vault.ChainID,
		ToChain:      vault.ChainID,
		FromToken:    vault.Asset,
		ToToken:      vault.Asset,
		FromDecimals: vault.AssetDecimals,
		ToDecimals:   vault.AssetDecimals,
		FromAmount:   new(big.Int).Set(amount),
		ToAmount:     new(big.Int).Set(amount),
		ToAmountMin:  new(big.Int).Set(amount),
	}
}

// TokenDecimals reads the ERC-20 decimals of token. Native tokens have 18.
func (o *Orchestrator) TokenDecimals(ctx context.Context, chainID int, token common.Address) (uint8, error) {
	if chains.IsNativeToken(token) {
		return 18, nil
	}
	data, err := contracts.PackDecimals()
	if err != nil {
		return 0, err
	}
	out, err := o.wallet.ReadContract(ctx, chainID, token, data)
	if err != nil {
		return 0, fmt.Errorf("failed to read decimals of %s: %w", token.Hex(), err)
	}
	return contracts.UnpackDecimals(out)
}
