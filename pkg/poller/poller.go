// Package poller tracks bridge transfers until the status service reports a terminal state.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/metrics"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

const (
	DefaultInterval      = 5 * time.Second
	DefaultTimeout       = 15 * time.Minute
	DefaultNotFoundGrace = 30 * time.Second
)

// StatusLookup queries the bridge status service
type StatusLookup interface {
	GetTransferStatus(ctx context.Context, tool string, fromChain, toChain int, txHash common.Hash) (*models.TransferStatus, error)
}

// Outcome is the classification of a finished polling task
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomePartial
	OutcomeFailed
	OutcomeTimedOut
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomePartial:
		return "partial"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Request identifies the bridge transfer to track
type Request struct {
	TransactionID string
	Tool          string
	FromChain     int
	ToChain       int
	TxHash        common.Hash
}

// Result is returned once polling stops. Status is the last answer received, if any.
type Result struct {
	Outcome Outcome
	Status  *models.TransferStatus
	Polls   int
}

// Classify maps a status answer onto an outcome. The second return is false while the
// transfer is still in flight. NOT_FOUND only counts as terminal once the grace window elapsed.
func Classify(status *models.TransferStatus, elapsed, notFoundGrace time.Duration) (Outcome, bool) {
	switch status.Status {
	case models.TransferDone:
		switch status.Substatus {
		case models.SubstatusPartial, models.SubstatusRefunded:
			return OutcomePartial, true
		}
		return OutcomeDone, true
	case models.TransferFailed, models.TransferInvalid:
		return OutcomeFailed, true
	case models.TransferNotFound:
		if elapsed >= notFoundGrace {
			return OutcomeFailed, true
		}
	}
	return 0, false
}

type task struct {
	cancel context.CancelFunc
}

// Poller runs one supervised polling task per transaction id
type Poller struct {
	lookup        StatusLookup
	interval      time.Duration
	timeout       time.Duration
	notFoundGrace time.Duration
	logger        logger.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

// New creates a poller. Zero durations fall back to the defaults.
func New(lookup StatusLookup, interval, timeout, notFoundGrace time.Duration, log logger.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if notFoundGrace < 0 {
		notFoundGrace = DefaultNotFoundGrace
	}
	return &Poller{
		lookup:        lookup,
		interval:      interval,
		timeout:       timeout,
		notFoundGrace: notFoundGrace,
		logger:        log,
		tasks:         make(map[string]*task),
	}
}

// PollUntilSettled blocks until the transfer settles, the timeout elapses or the task is
// cancelled. Starting a task for a transaction id that is already polled stops the old one.
// onTick, when set, receives every non-terminal status answer.
func (p *Poller) PollUntilSettled(ctx context.Context, req Request, onTick func(*models.TransferStatus)) Result {
	ctx, cancel := context.WithCancel(ctx)
	t := p.register(req.TransactionID, cancel)
	defer p.release(req.TransactionID, t)

	metrics.ActivePollers.Inc()
	defer metrics.ActivePollers.Dec()

	start := time.Now()
	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.InfoWithChain(req.FromChain, "Polling bridge status for %s (tx %s, tool %s)",
		req.TransactionID, req.TxHash.Hex(), req.Tool)

	var result Result
	for {
		select {
		case <-ctx.Done():
			p.logger.DebugWithChain(req.FromChain, "Polling for %s cancelled", req.TransactionID)
			result.Outcome = OutcomeCancelled
			return result
		case <-deadline.C:
			p.logger.NoticeWithChain(req.FromChain, "Bridge transfer for %s not settled after %v", req.TransactionID, p.timeout)
			metrics.BridgePollTimeouts.Inc()
			result.Outcome = OutcomeTimedOut
			return result
		case <-ticker.C:
			status, err := p.lookup.GetTransferStatus(ctx, req.Tool, req.FromChain, req.ToChain, req.TxHash)
			result.Polls++
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				metrics.BridgePolls.WithLabelValues("error").Inc()
				p.logger.DebugWithChain(req.FromChain, "Status lookup for %s failed: %v", req.TransactionID, err)
				continue
			}
			result.Status = status
			metrics.BridgePolls.WithLabelValues(status.Status).Inc()

			outcome, terminal := Classify(status, time.Since(start), p.notFoundGrace)
			if terminal {
				p.logger.InfoWithChain(req.FromChain, "Bridge transfer for %s settled: %s %s (%s)",
					req.TransactionID, status.Status, status.Substatus, outcome)
				result.Outcome = outcome
				return result
			}

			p.logger.DebugWithChain(req.FromChain, "Bridge transfer for %s still %s", req.TransactionID, status.Status)
			if onTick != nil {
				onTick(status)
			}
		}
	}
}

// Cancel stops the task polling for txID. It reports whether a task was running.
func (p *Poller) Cancel(txID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tasks[txID]
	if !ok {
		return false
	}
	t.cancel()
	delete(p.tasks, txID)
	return true
}

// IsPolling reports whether a task is running for txID
func (p *Poller) IsPolling(txID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[txID]
	return ok
}

// Stop cancels every running task
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, t := range p.tasks {
		t.cancel()
		delete(p.tasks, id)
	}
}

func (p *Poller) register(txID string, cancel context.CancelFunc) *task {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.tasks[txID]; ok {
		p.logger.Debug("Replacing running poller for %s", txID)
		old.cancel()
	}
	t := &task{cancel: cancel}
	p.tasks[txID] = t
	return t
}

func (p *Poller) release(txID string, t *task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t.cancel()
	if current, ok := p.tasks[txID]; ok && current == t {
		delete(p.tasks, txID)
	}
}
