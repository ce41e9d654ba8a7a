package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/chains"
	"github.com/speedrun-hq/vault-depositor/pkg/metrics"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

const persistTimeout = 10 * time.Second

// hub fans updates out to per-transaction subscribers
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(models.Update)
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[int]func(models.Update))}
}

func (h *hub) subscribe(txID string, fn func(models.Update)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.subs[txID] == nil {
		h.subs[txID] = make(map[int]func(models.Update))
	}
	h.subs[txID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[txID], id)
			if len(h.subs[txID]) == 0 {
				delete(h.subs, txID)
			}
		})
	}
}

func (h *hub) publish(u models.Update) {
	h.mu.Lock()
	fns := make([]func(models.Update), 0, len(h.subs[u.TransactionID]))
	for _, fn := range h.subs[u.TransactionID] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

// transition moves exec to step, persists status/currentStep together with the
// extra fields in patch and notifies subscribers
func (o *Orchestrator) transition(
	ctx context.Context,
	exec *execution,
	step models.ExecutionStep,
	status models.Status,
	currentStep string,
	message string,
	patch models.Patch,
) {
	exec.mu.Lock()
	if exec.dismissed {
		exec.mu.Unlock()
		return
	}
	prev := exec.ec.Step
	now := o.now()
	if prev != step {
		metrics.StepDuration.WithLabelValues(prev.String()).Observe(now.Sub(exec.stepStart).Seconds())
		exec.stepStart = now
	}
	exec.ec.Step = step
	exec.ec.Message = message
	txID := exec.ec.TransactionID
	update := o.buildUpdate(exec, status, currentStep)
	exec.mu.Unlock()

	patch.Status = models.Ptr(status)
	patch.CurrentStep = models.Ptr(currentStep)
	if message != "" || status.IsTerminal() {
		patch.ErrorMessage = models.Ptr(message)
	}
	o.persist(ctx, txID, patch)

	o.logger.Info("Transaction %s: %s -> %s (%s)", txID, prev, step, currentStep)
	o.hub.publish(update)

	if status.IsTerminal() {
		exec.mu.Lock()
		chainLabel := strconv.Itoa(exec.ec.Vault.ChainID)
		pathLabel := exec.ec.Path.Kind.String()
		exec.mu.Unlock()
		metrics.DepositsFinished.WithLabelValues(chainLabel, pathLabel, string(status)).Inc()
	}
}

// persist writes patch for txID even if ctx was cancelled; store errors are logged
func (o *Orchestrator) persist(ctx context.Context, txID string, patch models.Patch) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if _, err := o.store.Upsert(ctx, txID, patch); err != nil {
		o.logger.Error("Failed to persist state of %s: %v", txID, err)
	}
}

// buildUpdate assembles the subscriber update. Callers hold exec.mu.
func (o *Orchestrator) buildUpdate(exec *execution, status models.Status, currentStep string) models.Update {
	u := models.Update{
		TransactionID: exec.ec.TransactionID,
		Step:          exec.ec.Step,
		Status:        status,
		CurrentStep:   currentStep,
		Message:       exec.ec.Message,
	}
	last := exec.ec.Hashes.Last()
	if last == (common.Hash{}) {
		return u
	}
	u.TxHash = last.Hex()
	if last == exec.ec.Hashes.Bridge && exec.ec.Hashes.Deposit == (common.Hash{}) {
		u.ExplorerURL = chains.BridgeTxURL(u.TxHash)
	} else {
		u.ExplorerURL = chains.TxURL(exec.lastChain, u.TxHash)
	}
	return u
}

// recordLink returns the most advanced leg hash of rec with its explorer link
func recordLink(rec *models.TransactionState) (string, string) {
	switch {
	case rec.DepositTxHash != "":
		return rec.DepositTxHash, chains.TxURL(rec.DestinationChain, rec.DepositTxHash)
	case rec.BridgeTxHash != "":
		return rec.BridgeTxHash, chains.BridgeTxURL(rec.BridgeTxHash)
	case rec.SwapTxHash != "":
		return rec.SwapTxHash, chains.TxURL(rec.SourceChain, rec.SwapTxHash)
	case rec.ApproveTxHash != "":
		return rec.ApproveTxHash, chains.TxURL(rec.SourceChain, rec.ApproveTxHash)
	}
	return "", ""
}

// recordHash stores a leg hash in memory and in the store as soon as it is known
func (o *Orchestrator) recordHash(ctx context.Context, exec *execution, leg models.ExecutionStep, chainID int, hash common.Hash) {
	exec.mu.Lock()
	patch := models.Patch{}
	switch leg {
	case models.StepApprove:
		exec.ec.Hashes.Approve = hash
		patch.ApproveTxHash = models.Ptr(hash.Hex())
	case models.StepSwap:
		exec.ec.Hashes.Swap = hash
		patch.SwapTxHash = models.Ptr(hash.Hex())
	case models.StepBridge:
		exec.ec.Hashes.Bridge = hash
		patch.BridgeTxHash = models.Ptr(hash.Hex())
	case models.StepDeposit:
		exec.ec.Hashes.Deposit = hash
		patch.DepositTxHash = models.Ptr(hash.Hex())
	}
	exec.lastChain = chainID
	txID := exec.ec.TransactionID
	exec.mu.Unlock()

	o.persist(ctx, txID, patch)
}

// fail converts err into the failed state. Dismissed executions are left cancelled.
func (o *Orchestrator) fail(ctx context.Context, exec *execution, err error) (*models.ExecutionContext, error) {
	if exec.isDismissed() {
		return exec.snapshot(), err
	}

	exec.mu.Lock()
	exec.ec.LastError = err
	signed := exec.ec.Intent
	exec.ec.Intent = nil
	vault := exec.ec.Vault
	user := exec.ec.User
	txID := exec.ec.TransactionID
	lastHash := exec.ec.Hashes.Last()
	exec.mu.Unlock()

	router := vault.Router
	if signed != nil {
		router = signed.Router
	}
	o.nonces.Invalidate(vault.ChainID, router, user)

	kind := classifyError(err)
	metrics.DepositErrors.WithLabelValues(strconv.Itoa(vault.ChainID), kind).Inc()
	if lastHash != (common.Hash{}) {
		o.logger.ErrorWithChain(vault.ChainID, "Transaction %s failed (%s), last tx %s: %v", txID, kind, lastHash.Hex(), err)
	} else {
		o.logger.ErrorWithChain(vault.ChainID, "Transaction %s failed (%s): %v", txID, kind, err)
	}

	o.transition(ctx, exec, models.StepFailed, models.StatusFailed, models.StepError, userMessage(err), models.Patch{})
	return exec.snapshot(), err
}
