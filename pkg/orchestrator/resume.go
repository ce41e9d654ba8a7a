package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/speedrun-hq/vault-depositor/pkg/intent"
	"github.com/speedrun-hq/vault-depositor/pkg/metrics"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/poller"
	"github.com/speedrun-hq/vault-depositor/pkg/txstate"
)

// ErrDepositInProgress is returned when a deferred deposit is already being submitted
var ErrDepositInProgress = errors.New("deposit already in progress")

// ResumeDeposit submits the deferred deposit of a two-phase transaction. It is used
// both right after the bridge settled and by the resume scanner after a restart.
// The deposited amount is the smaller of the signed amount and the balance that
// actually arrived; the intent is signed again if amount, nonce or deadline changed.
func (o *Orchestrator) ResumeDeposit(ctx context.Context, txID string) (*models.ExecutionContext, error) {
	local, err := o.pending.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if local.Owner != o.wallet.Address() {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, txID)
	}

	rec, err := o.store.Get(ctx, txID)
	if err != nil && !errors.Is(err, txstate.ErrNotFound) {
		return nil, err
	}
	if rec != nil && rec.Status.IsTerminal() {
		_ = o.pending.Delete(ctx, txID)
		return nil, fmt.Errorf("%w: %s is already %s", txstate.ErrInvalidTransition, txID, rec.Status)
	}

	exec, err := o.claim(local)
	if err != nil {
		return nil, err
	}
	defer o.unclaim(exec)

	chainLabel := strconv.Itoa(local.DestinationChain)

	if rec == nil || rec.CurrentStep != models.StepAwaitingDeposit {
		settled, err := o.checkSettled(ctx, exec, local)
		if err != nil {
			return exec.snapshot(), err
		}
		if !settled {
			return exec.snapshot(), ErrBridgeNotSettled
		}
	}
	if o.poller != nil {
		o.poller.Cancel(txID)
	}

	ec, err := o.depositDeferred(ctx, exec, local)
	if err != nil {
		if errors.Is(err, ErrBridgeNotSettled) {
			return exec.snapshot(), err
		}
		if classifyError(err) == "user_rejected" {
			// the funds are untouched; leave the deposit resumable
			metrics.ResumedDeposits.WithLabelValues(chainLabel, "rejected").Inc()
			return exec.snapshot(), err
		}
		metrics.ResumedDeposits.WithLabelValues(chainLabel, "failed").Inc()
		_ = o.pending.Delete(context.WithoutCancel(ctx), txID)
		return o.fail(ctx, exec, err)
	}
	metrics.ResumedDeposits.WithLabelValues(chainLabel, "completed").Inc()
	return ec, nil
}

// checkSettled performs one status lookup for a bridge whose completion was not observed
func (o *Orchestrator) checkSettled(ctx context.Context, exec *execution, local *models.PendingLocalIntent) (bool, error) {
	status, err := o.quotes.GetTransferStatus(ctx, local.BridgeTool, local.SourceChain, local.DestinationChain, local.BridgeTxHash)
	if err != nil {
		return false, fmt.Errorf("failed to look up bridge status: %w", err)
	}

	outcome, terminal := poller.Classify(status, o.now().Sub(local.CreatedAt), o.opts.NotFoundGrace)
	if !terminal {
		o.logger.DebugWithChain(local.SourceChain, "Bridge for %s still %s", local.TransactionID, status.Status)
		return false, nil
	}

	switch outcome {
	case poller.OutcomePartial:
		o.partial(ctx, exec, status)
		_ = o.pending.Delete(context.WithoutCancel(ctx), local.TransactionID)
		return false, ErrBridgePartialFill
	case poller.OutcomeFailed:
		_ = o.pending.Delete(context.WithoutCancel(ctx), local.TransactionID)
		_, err := o.fail(ctx, exec, fmt.Errorf("%w: bridge reported %s", ErrBridgeSubmitFailed, status.Status))
		return false, err
	}

	if len(status.Raw) > 0 {
		o.persist(ctx, local.TransactionID, models.Patch{BridgeStatus: status.Raw})
	}
	return true, nil
}

// depositDeferred re-validates the cached intent against the arrived balance and deposits
func (o *Orchestrator) depositDeferred(ctx context.Context, exec *execution, local *models.PendingLocalIntent) (*models.ExecutionContext, error) {
	signed := local.Signed()
	user := local.Owner
	vault := exec.ec.Vault

	balance, err := o.balanceOf(ctx, local.DestinationChain, signed.Intent.Asset, user)
	if err != nil {
		return nil, fmt.Errorf("failed to read destination balance: %w", err)
	}
	if balance.Sign() == 0 {
		return nil, fmt.Errorf("%w: no balance on chain %d yet", ErrBridgeNotSettled, local.DestinationChain)
	}

	amount := minBig(signed.Intent.Amount, balance)
	if amount.Cmp(signed.Intent.Amount) != 0 {
		o.logger.NoticeWithChain(local.DestinationChain, "Only %s of %s arrived for %s, depositing the available balance",
			balance, signed.Intent.Amount, local.TransactionID)
	}

	current, err := o.nonces.Fresh(ctx, local.DestinationChain, signed.Router, user)
	if err != nil {
		return nil, err
	}

	needsResign := amount.Cmp(signed.Intent.Amount) != 0 ||
		current.Cmp(signed.Intent.Nonce) != 0 ||
		signed.Intent.Expired(o.now().Add(time.Minute))
	if needsResign {
		resigned, err := o.signIntent(ctx, exec, amount)
		if err != nil {
			return nil, err
		}
		signed = *resigned
	} else {
		if err := intent.Verify(&signed); err != nil {
			return nil, err
		}
		exec.mu.Lock()
		exec.ec.Intent = &signed
		exec.mu.Unlock()
	}

	if err := o.ensureApproval(ctx, exec, local.DestinationChain, signed.Intent.Asset, signed.Router, amount, false); err != nil {
		return nil, err
	}
	if err := o.submitDeposit(ctx, exec, &signed); err != nil {
		return nil, err
	}

	o.complete(ctx, exec, models.Patch{})
	o.logger.InfoWithChain(vault.ChainID, "Deferred deposit for %s completed", local.TransactionID)
	return exec.snapshot(), nil
}

// claim returns the execution for a pending intent, creating it after a restart,
// and marks it busy so one deposit runs at a time
func (o *Orchestrator) claim(local *models.PendingLocalIntent) (*execution, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	exec, ok := o.executions[local.TransactionID]
	if !ok {
		now := o.now()
		signed := local.Signed()
		exec = &execution{
			ec: models.ExecutionContext{
				TransactionID: local.TransactionID,
				User:          local.Owner,
				Vault: models.VaultConfig{
					ID:      local.VaultID,
					Address: local.Intent.Vault,
					ChainID: local.DestinationChain,
					Asset:   local.Intent.Asset,
					Router:  local.RouterAddress,
				},
				Step:   models.StepIdle,
				Path:   models.ExecutionPath{Kind: models.PathCrossChainTwoPhase},
				Intent: &signed,
				Hashes: models.TxHashes{Bridge: local.BridgeTxHash},
			},
			lastChain: local.SourceChain,
			started:   now,
			stepStart: now,
		}
		o.executions[local.TransactionID] = exec
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.busy {
		return nil, fmt.Errorf("%w: %s", ErrDepositInProgress, local.TransactionID)
	}
	exec.busy = true
	return exec, nil
}

func (o *Orchestrator) unclaim(exec *execution) {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	exec.busy = false
}
