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
)

// selectPath decides the execution path once. Non-direct paths sign the intent
// here because the atomic variants carry it in the contract call.
func (o *Orchestrator) selectPath(ctx context.Context, exec *execution, req ExecuteRequest) (models.ExecutionPath, error) {
	q := req.Quote
	vault := req.Vault
	if q.ToChain != vault.ChainID {
		return models.ExecutionPath{}, fmt.Errorf("%w: quote targets chain %d, vault lives on %d", ErrQuoteUnavailable, q.ToChain, vault.ChainID)
	}

	if !q.IsCrossChain() && chains.SameToken(q.FromToken, vault.Asset) {
		if err := o.checkCapacity(ctx, vault, q.FromAmount); err != nil {
			return models.ExecutionPath{}, err
		}
		return models.ExecutionPath{Kind: models.PathDirect, Quote: q}, nil
	}
	if q.Transaction == nil {
		return models.ExecutionPath{}, fmt.Errorf("%w: quote has no transaction", ErrQuoteUnavailable)
	}

	amount := o.signedAmount(q)
	if amount.Sign() <= 0 {
		return models.ExecutionPath{}, fmt.Errorf("%w: quote minimum output is zero", ErrQuoteUnavailable)
	}
	if err := o.checkCapacity(ctx, vault, amount); err != nil {
		return models.ExecutionPath{}, err
	}

	signed, err := o.signIntent(ctx, exec, amount)
	if err != nil {
		return models.ExecutionPath{}, err
	}

	fallback := models.PathCrossChainTwoPhase
	atomicKind := models.PathCrossChainAtomic
	if !q.IsCrossChain() {
		fallback = models.PathSameChainSwap
		atomicKind = models.PathSameChainSwap
	}

	atomic, err := o.contractCallQuote(ctx, exec, q, signed)
	if err != nil {
		o.logger.NoticeWithChain(q.FromChain, "Contract call quote for %s unavailable, using %s: %v", exec.ec.TransactionID, fallback, err)
		return models.ExecutionPath{Kind: fallback, Quote: q}, nil
	}
	if atomic == nil {
		return models.ExecutionPath{Kind: fallback, Quote: q}, nil
	}
	return models.ExecutionPath{Kind: atomicKind, Quote: atomic, Atomic: true}, nil
}

// signedAmount is the pessimistic amount expected to arrive in the vault asset
func (o *Orchestrator) signedAmount(q *models.Quote) *big.Int {
	if q.IsCrossChain() {
		return bps(q.MinimumOut(), -o.opts.Buffers.CrossChainBps)
	}
	return bps(q.MinimumOut(), -o.opts.Buffers.SameChainBps)
}

// contractCallQuote asks for a route that settles straight into depositWithIntent.
// It returns nil when no usable route exists.
func (o *Orchestrator) contractCallQuote(
	ctx context.Context,
	exec *execution,
	q *models.Quote,
	signed *models.SignedIntent,
) (*models.Quote, error) {
	data, err := contracts.PackDepositWithIntent(signed.Intent, signed.Signature)
	if err != nil {
		return nil, err
	}

	req := models.QuoteRequest{
		FromChain:   q.FromChain,
		ToChain:     q.ToChain,
		FromToken:   q.FromToken,
		ToToken:     signed.Intent.Asset,
		FromAmount:  q.FromAmount,
		FromAddress: exec.ec.User,
		ToAddress:   exec.ec.User,
		Slippage:    o.opts.Slippage,
	}
	call := models.ContractCall{
		FromAmount:        signed.Intent.Amount,
		FromTokenAddress:  signed.Intent.Asset,
		ToContractAddress: signed.Router,
		ToApprovalAddress: signed.Router,
		CallData:          data,
	}

	atomic, err := o.quotes.GetQuoteWithContractCall(ctx, req, call)
	if err != nil || atomic == nil {
		return nil, err
	}
	if atomic.Transaction == nil {
		return nil, nil
	}
	if atomic.FromAmount != nil && atomic.FromAmount.Cmp(q.FromAmount) > 0 {
		o.logger.NoticeWithChain(q.FromChain, "Contract call route for %s needs %s, more than %s requested",
			exec.ec.TransactionID, atomic.FromAmount, q.FromAmount)
		return nil, nil
	}
	return atomic, nil
}

// spenderFor returns the address that pulls the source token for q
func spenderFor(q *models.Quote) common.Address {
	if q.ApprovalAddress != (common.Address{}) {
		return q.ApprovalAddress
	}
	return q.Transaction.To
}

// submitRoute approves the source token and sends the quote transaction as leg
func (o *Orchestrator) submitRoute(ctx context.Context, exec *execution, q *models.Quote, leg models.ExecutionStep, fullBalance bool) error {
	if err := o.ensureApproval(ctx, exec, q.FromChain, q.FromToken, spenderFor(q), q.FromAmount, fullBalance); err != nil {
		return err
	}

	currentStep := models.StepSwapping
	if leg == models.StepBridge {
		currentStep = models.StepBridging
	}
	o.transition(ctx, exec, leg, models.StatusPending, currentStep, "", models.Patch{})

	tx := q.Transaction
	chainID := tx.ChainID
	if chainID == 0 {
		chainID = q.FromChain
	}
	if _, err := o.sendAndWait(ctx, exec, leg, chainID, tx.To, tx.Data, tx.Value); err != nil {
		return fmt.Errorf("%w: %w", ErrBridgeSubmitFailed, err)
	}
	return nil
}

func (o *Orchestrator) runDirect(ctx context.Context, exec *execution, req ExecuteRequest) error {
	vault := req.Vault
	amount := req.Quote.FromAmount

	signed, err := o.signIntent(ctx, exec, amount)
	if err != nil {
		return err
	}
	if err := o.ensureApproval(ctx, exec, vault.ChainID, vault.Asset, vault.Router, amount, req.Max); err != nil {
		return err
	}
	if err := o.submitDeposit(ctx, exec, signed); err != nil {
		return err
	}
	o.complete(ctx, exec, models.Patch{})
	return nil
}

func (o *Orchestrator) runSameChainSwap(ctx context.Context, exec *execution, req ExecuteRequest) error {
	exec.mu.Lock()
	path := exec.ec.Path
	signed := exec.ec.Intent
	exec.mu.Unlock()

	if err := o.submitRoute(ctx, exec, path.Quote, models.StepSwap, req.Max); err != nil {
		return err
	}

	if path.Atomic {
		// the swap transaction already executed depositWithIntent
		o.nonces.MarkUsed(signed.ChainID, signed.Router, signed.Intent.User, signed.Intent.Nonce)
		o.complete(ctx, exec, models.Patch{})
		return nil
	}

	vault := req.Vault
	if err := o.ensureApproval(ctx, exec, vault.ChainID, vault.Asset, vault.Router, signed.Intent.Amount, false); err != nil {
		return err
	}
	if err := o.submitDeposit(ctx, exec, signed); err != nil {
		return err
	}
	o.complete(ctx, exec, models.Patch{})
	return nil
}

func (o *Orchestrator) runCrossChainAtomic(ctx context.Context, exec *execution, req ExecuteRequest) error {
	exec.mu.Lock()
	path := exec.ec.Path
	signed := exec.ec.Intent
	exec.mu.Unlock()

	if err := o.submitRoute(ctx, exec, path.Quote, models.StepBridge, req.Max); err != nil {
		return err
	}

	result, err := o.waitForBridge(ctx, exec, path.Quote)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	o.nonces.MarkUsed(signed.ChainID, signed.Router, signed.Intent.User, signed.Intent.Nonce)
	o.complete(ctx, exec, o.settledPatch(exec, result, true))
	return nil
}

func (o *Orchestrator) runCrossChainTwoPhase(ctx context.Context, exec *execution, req ExecuteRequest) error {
	exec.mu.Lock()
	path := exec.ec.Path
	signed := exec.ec.Intent
	exec.mu.Unlock()

	q := path.Quote
	if err := o.submitRoute(ctx, exec, q, models.StepBridge, req.Max); err != nil {
		return err
	}

	exec.mu.Lock()
	bridgeHash := exec.ec.Hashes.Bridge
	exec.mu.Unlock()

	local := &models.PendingLocalIntent{
		TransactionID:    exec.ec.TransactionID,
		Intent:           signed.Intent,
		Signature:        signed.Signature,
		RouterAddress:    signed.Router,
		VaultID:          req.Vault.ID,
		EstimatedAmount:  q.ToAmount,
		Owner:            exec.ec.User,
		SourceChain:      q.FromChain,
		DestinationChain: req.Vault.ChainID,
		BridgeTool:       q.Tool,
		BridgeTxHash:     bridgeHash,
		CreatedAt:        o.now(),
	}
	if err := o.pending.Put(context.WithoutCancel(ctx), local); err != nil {
		// the bridge is already in flight; keep tracking it even if the resume cache failed
		o.logger.Error("Failed to cache pending intent for %s: %v", exec.ec.TransactionID, err)
	}

	result, err := o.waitForBridge(ctx, exec, q)
	if err != nil {
		if errors.Is(err, ErrBridgePartialFill) || errors.Is(err, ErrBridgeSubmitFailed) {
			_ = o.pending.Delete(context.WithoutCancel(ctx), exec.ec.TransactionID)
		}
		return err
	}
	if result == nil {
		return nil
	}

	patch := o.settledPatch(exec, result, false)
	o.transition(ctx, exec, models.StepIdle, models.StatusPending, models.StepAwaitingDeposit,
		"Funds arrived on the destination chain. Confirm the deposit to finish.", patch)
	return nil
}
