package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/speedrun-hq/vault-depositor/pkg/chains"
	"github.com/speedrun-hq/vault-depositor/pkg/contracts"
	"github.com/speedrun-hq/vault-depositor/pkg/intent"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/nonce"
)

// signIntent reads the router nonce and signs a deposit intent for amount.
// It refuses to sign when the router reads below a nonce seen earlier.
func (o *Orchestrator) signIntent(ctx context.Context, exec *execution, amount *big.Int) (*models.SignedIntent, error) {
	exec.mu.Lock()
	vault := exec.ec.Vault
	user := exec.ec.User
	exec.mu.Unlock()

	seen, hasSeen := o.nonces.Hint(vault.ChainID, vault.Router, user)
	current, err := o.nonces.Fresh(ctx, vault.ChainID, vault.Router, user)
	if err != nil {
		return nil, err
	}
	// router counters only grow; a lower read comes from a lagging node and
	// anything signed against it cannot be redeemed
	if hasSeen && current.Cmp(seen) < 0 {
		return nil, fmt.Errorf("%w: router reports nonce %s, %s already observed", ErrNonceStale, current, seen)
	}

	now := o.now()
	di := intent.NewDepositIntent(user, vault, amount, current, o.opts.IntentDeadline, now)
	signed, err := intent.Sign(ctx, o.wallet, di, vault.ChainID, vault.Router, now)
	if err != nil {
		return nil, err
	}

	exec.mu.Lock()
	exec.ec.Intent = signed
	exec.mu.Unlock()

	o.logger.DebugWithChain(vault.ChainID, "Signed intent for %s: amount %s, nonce %s", exec.ec.TransactionID, amount, current)
	return signed, nil
}

// freshIntent returns signed if its nonce still matches the router, otherwise it
// re-signs once with the new nonce. A second mismatch is ErrNonceStale.
func (o *Orchestrator) freshIntent(ctx context.Context, exec *execution, signed *models.SignedIntent) (*models.SignedIntent, error) {
	err := o.nonces.CheckFresh(ctx, signed)
	if err == nil {
		return signed, nil
	}
	if !errors.Is(err, nonce.ErrStale) {
		return nil, err
	}

	o.logger.NoticeWithChain(signed.ChainID, "Intent for %s is stale (%v), signing again", exec.ec.TransactionID, err)
	o.nonces.Invalidate(signed.ChainID, signed.Router, signed.Intent.User)

	resigned, err := o.signIntent(ctx, exec, signed.Intent.Amount)
	if err != nil {
		return nil, err
	}
	if err := o.nonces.CheckFresh(ctx, resigned); err != nil {
		if errors.Is(err, nonce.ErrStale) {
			return nil, fmt.Errorf("%w: %v", ErrNonceStale, err)
		}
		return nil, err
	}
	return resigned, nil
}

// readUint256 performs an eth_call returning a single uint256
func (o *Orchestrator) readUint256(
	ctx context.Context,
	chainID int,
	to common.Address,
	data []byte,
	unpack func([]byte) (*big.Int, error),
) (*big.Int, error) {
	out, err := o.wallet.ReadContract(ctx, chainID, to, data)
	if err != nil {
		return nil, err
	}
	return unpack(out)
}

func (o *Orchestrator) balanceOf(ctx context.Context, chainID int, token, owner common.Address) (*big.Int, error) {
	data, err := contracts.PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	return o.readUint256(ctx, chainID, token, data, contracts.UnpackBalanceOf)
}

func (o *Orchestrator) allowance(ctx context.Context, chainID int, token, owner, spender common.Address) (*big.Int, error) {
	data, err := contracts.PackAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	return o.readUint256(ctx, chainID, token, data, contracts.UnpackAllowance)
}

// vaultCapacity reads the vault's maxDeposit for the router
func (o *Orchestrator) vaultCapacity(ctx context.Context, vault models.VaultConfig) (*big.Int, error) {
	data, err := contracts.PackMaxDeposit(vault.Router)
	if err != nil {
		return nil, err
	}
	capacity, err := o.readUint256(ctx, vault.ChainID, vault.Address, data, contracts.UnpackMaxDeposit)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault capacity: %w", err)
	}
	return capacity, nil
}

// checkCapacity rejects amounts above the vault's maxDeposit for the router
func (o *Orchestrator) checkCapacity(ctx context.Context, vault models.VaultConfig, amount *big.Int) error {
	capacity, err := o.vaultCapacity(ctx, vault)
	if err != nil {
		return err
	}
	return exceedsCapacity(amount, capacity)
}

func exceedsCapacity(amount, capacity *big.Int) error {
	if amount.Cmp(capacity) > 0 {
		return fmt.Errorf("%w: %s requested, %s available", ErrCapacityExceeded, amount, capacity)
	}
	return nil
}

// ensureApproval approves spender for required unless the allowance already covers it.
// Native tokens need no approval; full-balance amounts get no buffer.
func (o *Orchestrator) ensureApproval(
	ctx context.Context,
	exec *execution,
	chainID int,
	token, spender common.Address,
	required *big.Int,
	fullBalance bool,
) error {
	if chains.IsNativeToken(token) {
		return nil
	}

	exec.mu.Lock()
	user := exec.ec.User
	txID := exec.ec.TransactionID
	exec.mu.Unlock()

	current, err := o.allowance(ctx, chainID, token, user, spender)
	if err != nil {
		return fmt.Errorf("%w: failed to read allowance: %w", ErrApprovalFailed, err)
	}
	if current.Cmp(required) >= 0 {
		o.logger.DebugWithChain(chainID, "Allowance %s covers %s for %s, skipping approval", current, required, txID)
		return nil
	}

	amount := required
	if !fullBalance {
		amount = bps(required, o.opts.Buffers.ApprovalBps)
	}

	o.transition(ctx, exec, models.StepApprove, models.StatusPending, models.StepApproving, "", models.Patch{})
	o.logger.InfoWithChain(chainID, "Approving %s of %s to %s for %s", amount, token.Hex(), spender.Hex(), txID)

	data, err := contracts.PackApprove(spender, amount)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}
	if _, err := o.sendAndWait(ctx, exec, models.StepApprove, chainID, token, data, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}
	return nil
}

// sendAndWait broadcasts one transaction on chainID and waits for its receipt
func (o *Orchestrator) sendAndWait(
	ctx context.Context,
	exec *execution,
	leg models.ExecutionStep,
	chainID int,
	to common.Address,
	data []byte,
	value *big.Int,
) (*types.Receipt, error) {
	if o.wallet.ConnectedChainID() != chainID {
		if err := o.wallet.SwitchChain(ctx, chainID); err != nil {
			return nil, fmt.Errorf("failed to switch to chain %d: %w", chainID, err)
		}
	}

	hash, err := o.wallet.SendTransaction(ctx, chainID, to, data, value)
	if err != nil {
		return nil, err
	}
	o.recordHash(ctx, exec, leg, chainID, hash)
	o.logger.InfoWithChain(chainID, "%s transaction sent for %s: %s", leg, exec.ec.TransactionID, hash.Hex())

	receipt, err := o.wallet.WaitForReceipt(ctx, chainID, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for %s: %w", hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted", hash.Hex())
	}

	o.logger.InfoWithChain(chainID, "%s transaction mined for %s: %s (gas used: %d)",
		leg, exec.ec.TransactionID, hash.Hex(), receipt.GasUsed)
	return receipt, nil
}

// submitDeposit redeems signed on the router after re-validating its nonce and signature
func (o *Orchestrator) submitDeposit(ctx context.Context, exec *execution, signed *models.SignedIntent) error {
	signed, err := o.freshIntent(ctx, exec, signed)
	if err != nil {
		return err
	}
	if err := intent.Verify(signed); err != nil {
		return err
	}
	if err := intent.Validate(signed.Intent, o.now()); err != nil {
		return err
	}

	o.transition(ctx, exec, models.StepDeposit, models.StatusPending, models.StepDepositing, "", models.Patch{})

	data, err := contracts.PackDepositWithIntent(signed.Intent, signed.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDepositSubmitFailed, err)
	}
	receipt, err := o.sendAndWait(ctx, exec, models.StepDeposit, signed.ChainID, signed.Router, data, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDepositSubmitFailed, err)
	}

	o.nonces.MarkUsed(signed.ChainID, signed.Router, signed.Intent.User, signed.Intent.Nonce)
	if event, ok := contracts.ParseIntentDeposited(signed.Router, receipt); ok {
		o.logger.InfoWithChain(signed.ChainID, "Deposited %s for %s, received %s shares", event.Amount, exec.ec.TransactionID, event.Shares)
	}
	return nil
}

// complete marks exec completed and drops its pending intent
func (o *Orchestrator) complete(ctx context.Context, exec *execution, patch models.Patch) {
	o.transition(ctx, exec, models.StepCompleted, models.StatusCompleted, models.StepComplete, "", patch)

	exec.mu.Lock()
	txID := exec.ec.TransactionID
	exec.mu.Unlock()
	if err := o.pending.Delete(context.WithoutCancel(ctx), txID); err != nil {
		o.logger.Error("Failed to delete pending intent %s: %v", txID, err)
	}
}

// minBig returns the smaller of a and b
func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
