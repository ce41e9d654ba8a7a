package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLookup answers with the scripted statuses in order and repeats the last one
type scriptedLookup struct {
	mu      sync.Mutex
	answers []*models.TransferStatus
	errs    []error
	calls   int
}

func (s *scriptedLookup) GetTransferStatus(context.Context, string, int, int, common.Hash) (*models.TransferStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.answers) {
		i = len(s.answers) - 1
	}
	return s.answers[i], nil
}

func (s *scriptedLookup) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func status(st, sub string) *models.TransferStatus {
	return &models.TransferStatus{Status: st, Substatus: sub}
}

func testRequest(id string) Request {
	return Request{TransactionID: id, Tool: "stargate", FromChain: 42161, ToChain: 8453, TxHash: common.HexToHash("0x1")}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		status   *models.TransferStatus
		elapsed  time.Duration
		want     Outcome
		terminal bool
	}{
		{"done", status(models.TransferDone, models.SubstatusCompleted), 0, OutcomeDone, true},
		{"done without substatus", status(models.TransferDone, ""), 0, OutcomeDone, true},
		{"partial", status(models.TransferDone, models.SubstatusPartial), 0, OutcomePartial, true},
		{"refunded", status(models.TransferDone, models.SubstatusRefunded), 0, OutcomePartial, true},
		{"failed", status(models.TransferFailed, ""), 0, OutcomeFailed, true},
		{"invalid", status(models.TransferInvalid, ""), 0, OutcomeFailed, true},
		{"pending", status(models.TransferPending, "WAIT_DESTINATION_TRANSACTION"), time.Hour, 0, false},
		{"not found in grace", status(models.TransferNotFound, ""), 10 * time.Second, 0, false},
		{"not found after grace", status(models.TransferNotFound, ""), time.Minute, OutcomeFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, terminal := Classify(tt.status, tt.elapsed, DefaultNotFoundGrace)
			assert.Equal(t, tt.terminal, terminal)
			if tt.terminal {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	p := New(&scriptedLookup{}, 0, 0, -1, &logger.EmptyLogger{})
	assert.Equal(t, 5*time.Second, p.interval)
	assert.Equal(t, 15*time.Minute, p.timeout)
	assert.Equal(t, 30*time.Second, p.notFoundGrace)
}

func TestPollUntilSettledDone(t *testing.T) {
	lookup := &scriptedLookup{answers: []*models.TransferStatus{
		status(models.TransferPending, ""),
		status(models.TransferPending, ""),
		status(models.TransferDone, models.SubstatusCompleted),
	}}
	p := New(lookup, time.Millisecond, time.Second, 0, &logger.EmptyLogger{})

	ticks := 0
	res := p.PollUntilSettled(context.Background(), testRequest("tx-1"), func(*models.TransferStatus) { ticks++ })
	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, 3, res.Polls)
	assert.Equal(t, 2, ticks)
	assert.False(t, p.IsPolling("tx-1"))
}

func TestPollUntilSettledSurvivesLookupErrors(t *testing.T) {
	lookup := &scriptedLookup{
		errs:    []error{errors.New("502"), errors.New("502")},
		answers: []*models.TransferStatus{nil, nil, status(models.TransferDone, models.SubstatusPartial)},
	}
	p := New(lookup, time.Millisecond, time.Second, 0, &logger.EmptyLogger{})

	res := p.PollUntilSettled(context.Background(), testRequest("tx-err"), nil)
	assert.Equal(t, OutcomePartial, res.Outcome)
	require.NotNil(t, res.Status)
	assert.Equal(t, models.SubstatusPartial, res.Status.Substatus)
}

func TestPollUntilSettledTimesOut(t *testing.T) {
	lookup := &scriptedLookup{answers: []*models.TransferStatus{status(models.TransferPending, "")}}
	p := New(lookup, 2*time.Millisecond, 30*time.Millisecond, 0, &logger.EmptyLogger{})

	res := p.PollUntilSettled(context.Background(), testRequest("tx-slow"), nil)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Greater(t, res.Polls, 0)
}

func TestNotFoundGrace(t *testing.T) {
	lookup := &scriptedLookup{answers: []*models.TransferStatus{status(models.TransferNotFound, "")}}

	p := New(lookup, time.Millisecond, time.Second, 20*time.Millisecond, &logger.EmptyLogger{})
	res := p.PollUntilSettled(context.Background(), testRequest("tx-nf"), nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Greater(t, res.Polls, 1)
}

func TestCancel(t *testing.T) {
	lookup := &scriptedLookup{answers: []*models.TransferStatus{status(models.TransferPending, "")}}
	p := New(lookup, time.Millisecond, time.Minute, 0, &logger.EmptyLogger{})

	done := make(chan Result, 1)
	go func() { done <- p.PollUntilSettled(context.Background(), testRequest("tx-c"), nil) }()

	require.Eventually(t, func() bool { return p.IsPolling("tx-c") }, time.Second, time.Millisecond)
	assert.True(t, p.Cancel("tx-c"))
	assert.False(t, p.Cancel("tx-c"))

	select {
	case res := <-done:
		assert.Equal(t, OutcomeCancelled, res.Outcome)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestNewTaskReplacesOld(t *testing.T) {
	lookup := &scriptedLookup{answers: []*models.TransferStatus{status(models.TransferPending, "")}}
	p := New(lookup, time.Millisecond, time.Minute, 0, &logger.EmptyLogger{})

	first := make(chan Result, 1)
	go func() { first <- p.PollUntilSettled(context.Background(), testRequest("tx-r"), nil) }()
	require.Eventually(t, func() bool { return lookup.count() > 0 }, time.Second, time.Millisecond)

	second := make(chan Result, 1)
	go func() { second <- p.PollUntilSettled(context.Background(), testRequest("tx-r"), nil) }()

	select {
	case res := <-first:
		assert.Equal(t, OutcomeCancelled, res.Outcome)
	case <-time.After(time.Second):
		t.Fatal("old task kept running")
	}

	assert.True(t, p.IsPolling("tx-r"))
	p.Stop()
	res := <-second
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.False(t, p.IsPolling("tx-r"))
}
