// Package resume offers to finish deferred deposits when an account connects to their destination chain.
package resume

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/orchestrator"
	"github.com/speedrun-hq/vault-depositor/pkg/pending"
)

// Depositor submits the deposit leg of a pending intent
type Depositor interface {
	ResumeDeposit(ctx context.Context, txID string) (*models.ExecutionContext, error)
}

// ConfirmFunc asks the account holder whether a pending deposit should be finished now
type ConfirmFunc func(ctx context.Context, intent *models.PendingLocalIntent) bool

// AutoConfirm confirms every pending deposit
func AutoConfirm(context.Context, *models.PendingLocalIntent) bool { return true }

// State is what happened to one pending intent during a scan
type State string

const (
	StateResumed  State = "resumed"
	StateDeclined State = "declined"
	StateInFlight State = "in_flight"
	StateFailed   State = "failed"
	StateBusy     State = "busy"
)

// Outcome reports the handling of one pending intent
type Outcome struct {
	TransactionID string
	State         State
	Err           error
}

// Scanner matches pending intents to the connected account and chain
type Scanner struct {
	store     pending.Store
	depositor Depositor
	confirm   ConfirmFunc
	logger    logger.Logger

	mu       sync.Mutex
	scanning map[string]bool
}

// NewScanner creates a scanner. A nil confirm declines everything.
func NewScanner(store pending.Store, depositor Depositor, confirm ConfirmFunc, log logger.Logger) *Scanner {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if confirm == nil {
		confirm = func(context.Context, *models.PendingLocalIntent) bool { return false }
	}
	return &Scanner{
		store:     store,
		depositor: depositor,
		confirm:   confirm,
		logger:    log,
		scanning:  make(map[string]bool),
	}
}

// OnConnectionChange scans the pending intents of account whose deposit belongs on
// chainID, oldest first, and resumes every confirmed one
func (s *Scanner) OnConnectionChange(ctx context.Context, account common.Address, chainID int) ([]Outcome, error) {
	intents, err := s.store.ListByOwner(ctx, account)
	if err != nil {
		return nil, err
	}

	var outcomes []Outcome
	for _, intent := range intents {
		if intent.DestinationChain != chainID {
			continue
		}
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
		outcomes = append(outcomes, s.handle(ctx, intent))
	}

	if len(outcomes) > 0 {
		s.logger.InfoWithChain(chainID, "Resume scan for %s handled %d pending deposit(s)", account.Hex(), len(outcomes))
	}
	return outcomes, nil
}

func (s *Scanner) handle(ctx context.Context, intent *models.PendingLocalIntent) Outcome {
	txID := intent.TransactionID
	if !s.acquire(txID) {
		return Outcome{TransactionID: txID, State: StateBusy}
	}
	defer s.release(txID)

	if !s.confirm(ctx, intent) {
		s.logger.DebugWithChain(intent.DestinationChain, "Deposit for %s not confirmed", txID)
		return Outcome{TransactionID: txID, State: StateDeclined}
	}

	s.logger.InfoWithChain(intent.DestinationChain, "Resuming deposit for %s (signed amount %s)", txID, intent.Intent.Amount)
	_, err := s.depositor.ResumeDeposit(ctx, txID)
	switch {
	case err == nil:
		return Outcome{TransactionID: txID, State: StateResumed}
	case errors.Is(err, orchestrator.ErrBridgeNotSettled):
		return Outcome{TransactionID: txID, State: StateInFlight, Err: err}
	case errors.Is(err, orchestrator.ErrDepositInProgress):
		return Outcome{TransactionID: txID, State: StateBusy, Err: err}
	}
	s.logger.ErrorWithChain(intent.DestinationChain, "Failed to resume deposit for %s: %v", txID, err)
	return Outcome{TransactionID: txID, State: StateFailed, Err: err}
}

func (s *Scanner) acquire(txID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning[txID] {
		return false
	}
	s.scanning[txID] = true
	return true
}

func (s *Scanner) release(txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scanning, txID)
}

// Watch rescans every interval until no pending intent for chainID is left
// in flight or ctx is done. It returns the outcomes of the last scan.
func (s *Scanner) Watch(ctx context.Context, account common.Address, chainID int, interval time.Duration) ([]Outcome, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		outcomes, err := s.OnConnectionChange(ctx, account, chainID)
		if err != nil {
			return outcomes, err
		}
		if !anyInFlight(outcomes) {
			return outcomes, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return outcomes, ctx.Err()
		}
	}
}

func anyInFlight(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if o.State == StateInFlight {
			return true
		}
	}
	return false
}
