package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/poller"
)

// errPollingStopped is returned when bridge polling ended without a verdict,
// for example on shutdown. The record stays pending.
var errPollingStopped = errors.New("bridge polling stopped")

const delayedMessage = "The bridge is taking longer than expected. Check the bridge explorer for progress."

// waitForBridge polls the bridge leg of exec until it settles. It returns the
// result on a full fill, nil without error when the record was left pending
// (timeout or dismissal), and an error for partial or failed transfers.
func (o *Orchestrator) waitForBridge(ctx context.Context, exec *execution, q *models.Quote) (*poller.Result, error) {
	exec.mu.Lock()
	txID := exec.ec.TransactionID
	bridgeHash := exec.ec.Hashes.Bridge
	exec.mu.Unlock()

	result := o.poller.PollUntilSettled(ctx, poller.Request{
		TransactionID: txID,
		Tool:          q.Tool,
		FromChain:     q.FromChain,
		ToChain:       q.ToChain,
		TxHash:        bridgeHash,
	}, func(status *models.TransferStatus) {
		if len(status.Raw) > 0 {
			o.persist(ctx, txID, models.Patch{BridgeStatus: status.Raw})
		}
	})

	switch result.Outcome {
	case poller.OutcomeDone:
		return &result, nil
	case poller.OutcomePartial:
		o.partial(ctx, exec, result.Status)
		return nil, ErrBridgePartialFill
	case poller.OutcomeFailed:
		status := "unknown"
		if result.Status != nil {
			status = result.Status.Status
			if result.Status.Substatus != "" {
				status += "/" + result.Status.Substatus
			}
		}
		return nil, fmt.Errorf("%w: bridge reported %s", ErrBridgeSubmitFailed, status)
	case poller.OutcomeTimedOut:
		patch := models.Patch{}
		if result.Status != nil && len(result.Status.Raw) > 0 {
			patch.BridgeStatus = result.Status.Raw
		}
		o.transition(ctx, exec, models.StepBridge, models.StatusPending, models.StepBridgeDelayed, delayedMessage, patch)
		return nil, nil
	}

	if exec.isDismissed() {
		return nil, nil
	}
	return nil, errPollingStopped
}

// partial records a partially settled bridge as a terminal state
func (o *Orchestrator) partial(ctx context.Context, exec *execution, status *models.TransferStatus) {
	message := "The bridge settled partially. Check your wallet on the destination chain."
	patch := models.Patch{}
	if status != nil {
		if status.ReceivingTxHash != "" {
			message = fmt.Sprintf("The bridge settled partially (receiving tx %s). Check your wallet on the destination chain.", status.ReceivingTxHash)
		}
		if len(status.Raw) > 0 {
			patch.BridgeStatus = status.Raw
		}
	}
	o.logger.NoticeWithChain(exec.ec.Vault.ChainID, "Transaction %s settled partially", exec.ec.TransactionID)
	o.transition(ctx, exec, models.StepPartialFill, models.StatusPartial, models.StepBridgePartial, message, patch)
}

// settledPatch records the bridge answer. When depositLanded is set the receiving
// transaction executed the deposit and becomes the deposit leg.
func (o *Orchestrator) settledPatch(exec *execution, result *poller.Result, depositLanded bool) models.Patch {
	patch := models.Patch{}
	if result == nil || result.Status == nil {
		return patch
	}
	if len(result.Status.Raw) > 0 {
		patch.BridgeStatus = result.Status.Raw
	}
	if depositLanded && result.Status.ReceivingTxHash != "" {
		hash := common.HexToHash(result.Status.ReceivingTxHash)
		exec.mu.Lock()
		exec.ec.Hashes.Deposit = hash
		exec.lastChain = exec.ec.Vault.ChainID
		exec.mu.Unlock()
		patch.DepositTxHash = models.Ptr(hash.Hex())
	}
	return patch
}
