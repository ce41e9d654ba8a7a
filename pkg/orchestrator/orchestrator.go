// Package orchestrator drives a vault deposit across approval, swap, bridge and
// deposit transactions and records every transition in the transaction state store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/speedrun-hq/vault-depositor/pkg/config"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/metrics"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/nonce"
	"github.com/speedrun-hq/vault-depositor/pkg/pending"
	"github.com/speedrun-hq/vault-depositor/pkg/poller"
	"github.com/speedrun-hq/vault-depositor/pkg/txstate"
	"github.com/speedrun-hq/vault-depositor/pkg/wallet"
)

// QuoteService is the quote and bridge status service
type QuoteService interface {
	poller.StatusLookup
	GetQuote(ctx context.Context, req models.QuoteRequest) (*models.Quote, error)
	GetQuoteWithContractCall(ctx context.Context, req models.QuoteRequest, call models.ContractCall) (*models.Quote, error)
}

// Options are the business parameters of the orchestrator
type Options struct {
	Buffers        config.BufferConfig
	Slippage       float64
	IntentDeadline time.Duration
	NotFoundGrace  time.Duration
}

// DefaultOptions returns the configured defaults
func DefaultOptions() Options {
	return Options{
		Buffers: config.BufferConfig{
			ApprovalBps:    config.DefaultApprovalBufferBps,
			CrossChainBps:  config.DefaultCrossChainBufferBps,
			SameChainBps:   config.DefaultSameChainBufferBps,
			ProtocolFeeBps: config.DefaultProtocolFeeBps,
		},
		Slippage:       config.DefaultSlippage,
		IntentDeadline: config.DefaultIntentDeadline,
		NotFoundGrace:  config.DefaultNotFoundGrace,
	}
}

// OptionsFromConfig extracts orchestrator options from the service configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Buffers:        cfg.Buffers,
		Slippage:       cfg.Slippage,
		IntentDeadline: cfg.IntentDeadline,
		NotFoundGrace:  cfg.NotFoundGrace,
	}
}

// Dependencies are the collaborators of the orchestrator
type Dependencies struct {
	Wallet  wallet.Wallet
	Quotes  QuoteService
	Poller  *poller.Poller
	Nonces  *nonce.Source
	Store   txstate.Store
	Pending pending.Store
	Logger  logger.Logger
}

// ExecuteRequest starts a deposit of Quote.FromAmount into Vault.
// Quote comes from PrepareQuote; Max marks a full-balance amount that gets no approval buffer.
type ExecuteRequest struct {
	TransactionID string
	Vault         models.VaultConfig
	Quote         *models.Quote
	Max           bool
}

// execution is the in-memory record of one transaction id
type execution struct {
	mu        sync.Mutex
	ec        models.ExecutionContext
	cancel    context.CancelFunc
	dismissed bool
	busy      bool
	lastChain int
	started   time.Time
	stepStart time.Time
}

// Orchestrator is the Execution Orchestrator
type Orchestrator struct {
	wallet  wallet.Wallet
	quotes  QuoteService
	poller  *poller.Poller
	nonces  *nonce.Source
	store   txstate.Store
	pending pending.Store
	logger  logger.Logger
	opts    Options
	now     func() time.Time

	mu         sync.Mutex
	executions map[string]*execution
	hub        *hub
}

// New creates an orchestrator
func New(deps Dependencies, opts Options) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if opts.IntentDeadline <= 0 {
		opts.IntentDeadline = config.DefaultIntentDeadline
	}
	return &Orchestrator{
		wallet:     deps.Wallet,
		quotes:     deps.Quotes,
		poller:     deps.Poller,
		nonces:     deps.Nonces,
		store:      deps.Store,
		pending:    deps.Pending,
		logger:     log,
		opts:       opts,
		now:        time.Now,
		executions: make(map[string]*execution),
		hub:        newHub(),
	}
}

// StartExecution records the new transaction and runs it in the background.
// It only fails when the initial record cannot be written; execution errors are
// reported through the store and subscribers.
func (o *Orchestrator) StartExecution(ctx context.Context, req ExecuteRequest) (string, error) {
	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	}
	exec, err := o.begin(ctx, req)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	exec.mu.Lock()
	exec.cancel = cancel
	exec.mu.Unlock()

	go func() {
		defer cancel()
		_, _ = o.run(runCtx, exec, req)
	}()
	return req.TransactionID, nil
}

// Execute runs a deposit to completion (or to the point where it waits for the
// bridge or a manual resume) and returns the final context. Execution errors are
// persisted before being returned.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (*models.ExecutionContext, error) {
	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	}
	exec, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	exec.mu.Lock()
	exec.cancel = cancel
	exec.mu.Unlock()

	return o.run(runCtx, exec, req)
}

// begin validates the request and writes the initial record
func (o *Orchestrator) begin(ctx context.Context, req ExecuteRequest) (*execution, error) {
	if req.Quote == nil {
		return nil, fmt.Errorf("%w: missing quote", ErrQuoteUnavailable)
	}
	if req.Quote.FromAmount == nil || req.Quote.FromAmount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be greater than 0")
	}

	user := o.wallet.Address()
	q := req.Quote
	_, err := o.store.Upsert(ctx, req.TransactionID, models.Patch{
		UserAddress:      models.Ptr(user.Hex()),
		SourceChain:      models.Ptr(q.FromChain),
		DestinationChain: models.Ptr(req.Vault.ChainID),
		VaultID:          models.Ptr(req.Vault.ID),
		VaultAddress:     models.Ptr(req.Vault.Address.Hex()),
		FromToken:        models.Ptr(q.FromToken.Hex()),
		FromAmount:       models.Ptr(q.FromAmount.String()),
		ToToken:          models.Ptr(req.Vault.Asset.Hex()),
		ToAmount:         models.Ptr(q.MinimumOut().String()),
		Status:           models.Ptr(models.StatusPending),
		CurrentStep:      models.Ptr(models.StepInitiated),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction %s: %w", req.TransactionID, err)
	}

	now := o.now()
	exec := &execution{
		ec: models.ExecutionContext{
			TransactionID: req.TransactionID,
			User:          user,
			Vault:         req.Vault,
			Step:          models.StepIdle,
			Quote:         q,
		},
		started:   now,
		stepStart: now,
	}

	o.mu.Lock()
	o.supersede(req.Vault.ID)
	o.executions[req.TransactionID] = exec
	o.mu.Unlock()

	o.logger.InfoWithChain(q.FromChain, "Transaction %s initiated: %s of %s into vault %s on chain %d",
		req.TransactionID, q.FromAmount, q.FromToken.Hex(), req.Vault.Address.Hex(), req.Vault.ChainID)
	return exec, nil
}

// supersede drops finished contexts of earlier executions for the same vault. Callers hold o.mu.
func (o *Orchestrator) supersede(vaultID string) {
	for id, exec := range o.executions {
		exec.mu.Lock()
		drop := exec.ec.Vault.ID == vaultID && exec.ec.Step.IsTerminal()
		exec.mu.Unlock()
		if drop {
			delete(o.executions, id)
		}
	}
}

// run selects the path once and dispatches to it
func (o *Orchestrator) run(ctx context.Context, exec *execution, req ExecuteRequest) (*models.ExecutionContext, error) {
	path, err := o.selectPath(ctx, exec, req)
	if err != nil {
		return o.fail(ctx, exec, err)
	}

	exec.mu.Lock()
	exec.ec.Path = path
	exec.mu.Unlock()

	chainLabel := strconv.Itoa(req.Vault.ChainID)
	metrics.DepositsStarted.WithLabelValues(chainLabel, path.Kind.String()).Inc()
	o.logger.Info("Transaction %s uses path %s (tool %s)", req.TransactionID, path.Kind, path.Quote.Tool)

	switch path.Kind {
	case models.PathDirect:
		err = o.runDirect(ctx, exec, req)
	case models.PathSameChainSwap:
		err = o.runSameChainSwap(ctx, exec, req)
	case models.PathCrossChainAtomic:
		err = o.runCrossChainAtomic(ctx, exec, req)
	case models.PathCrossChainTwoPhase:
		err = o.runCrossChainTwoPhase(ctx, exec, req)
	default:
		err = fmt.Errorf("unknown execution path %v", path.Kind)
	}
	if err != nil {
		if errors.Is(err, ErrBridgePartialFill) || errors.Is(err, errPollingStopped) {
			return exec.snapshot(), err
		}
		return o.fail(ctx, exec, err)
	}
	return exec.snapshot(), nil
}

// CurrentStep returns the in-memory step of txID
func (o *Orchestrator) CurrentStep(txID string) (models.ExecutionStep, bool) {
	exec, ok := o.lookup(txID)
	if !ok {
		return models.StepIdle, false
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	return exec.ec.Step, true
}

// Context returns a copy of the in-memory execution context of txID
func (o *Orchestrator) Context(txID string) (*models.ExecutionContext, bool) {
	exec, ok := o.lookup(txID)
	if !ok {
		return nil, false
	}
	return exec.snapshot(), true
}

// Subscribe registers fn for updates of txID. The returned function unsubscribes.
func (o *Orchestrator) Subscribe(txID string, fn func(models.Update)) func() {
	return o.hub.subscribe(txID, fn)
}

// ListPending returns the in-flight records of user younger than the retention window
func (o *Orchestrator) ListPending(ctx context.Context, user common.Address) ([]*models.TransactionState, error) {
	return o.store.List(ctx, models.ListFilter{User: user.Hex(), View: models.ViewPending})
}

// ListHistory returns every other record of user
func (o *Orchestrator) ListHistory(ctx context.Context, user common.Address) ([]*models.TransactionState, error) {
	return o.store.List(ctx, models.ListFilter{User: user.Hex(), View: models.ViewHistory})
}

// Dismiss stops polling for txID, marks a non-terminal record cancelled, removes
// its pending intent and forgets the in-memory context. Broadcast transactions are
// not cancelled.
func (o *Orchestrator) Dismiss(ctx context.Context, txID string) error {
	if o.poller != nil {
		o.poller.Cancel(txID)
	}

	exec, inMemory := o.lookup(txID)
	if inMemory {
		exec.mu.Lock()
		exec.dismissed = true
		if !exec.ec.Step.IsTerminal() {
			exec.ec.Step = models.StepCancelledByUser
		}
		cancel := exec.cancel
		exec.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}

	rec, err := o.store.Get(ctx, txID)
	switch {
	case err == nil:
		if !rec.Status.IsTerminal() {
			rec, err = o.store.Upsert(ctx, txID, models.Patch{
				Status:      models.Ptr(models.StatusCancelled),
				CurrentStep: models.Ptr(models.StepCancelled),
			})
			if err != nil {
				return fmt.Errorf("failed to cancel %s: %w", txID, err)
			}
			o.logger.Info("Transaction %s dismissed", txID)
		}
	case !inMemory:
		return err
	}

	if err := o.pending.Delete(ctx, txID); err != nil {
		o.logger.Error("Failed to delete pending intent %s: %v", txID, err)
	}

	o.mu.Lock()
	delete(o.executions, txID)
	o.mu.Unlock()

	update := models.Update{
		TransactionID: txID,
		Step:          models.StepCancelledByUser,
		Status:        models.StatusCancelled,
		CurrentStep:   models.StepCancelled,
	}
	switch {
	case rec != nil:
		update.Status = rec.Status
		update.CurrentStep = rec.CurrentStep
		update.TxHash, update.ExplorerURL = recordLink(rec)
	case inMemory:
		exec.mu.Lock()
		last := o.buildUpdate(exec, update.Status, update.CurrentStep)
		exec.mu.Unlock()
		update.TxHash, update.ExplorerURL = last.TxHash, last.ExplorerURL
	}
	o.hub.publish(update)
	return nil
}

func (o *Orchestrator) lookup(txID string) (*execution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec, ok := o.executions[txID]
	return exec, ok
}

func (e *execution) snapshot() *models.ExecutionContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	ec := e.ec
	return &ec
}

func (e *execution) isDismissed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dismissed
}

// bps scales amount by (10000 + delta) / 10000
func bps(amount *big.Int, delta int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(10_000+delta))
	return out.Quo(out, big.NewInt(10_000))
}
