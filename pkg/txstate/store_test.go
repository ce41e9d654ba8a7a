package txstate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time { return c.t }

func newTestStore() (*MemoryStore, *fixedClock) {
	clock := &fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(time.Hour)
	s.SetClock(clock.now)
	return s, clock
}

func TestUpsertCreatesPendingRecord(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	rec, err := s.Upsert(ctx, "tx-1", models.Patch{UserAddress: models.Ptr("0xAbC")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, models.StepInitiated, rec.CurrentStep)
	assert.Equal(t, clock.t, rec.CreatedAt)
	assert.Equal(t, clock.t, rec.UpdatedAt)
}

func TestUpsertMergesPerField(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	_, err := s.Upsert(ctx, "tx-1", models.Patch{
		UserAddress:  models.Ptr("0xabc"),
		BridgeTxHash: models.Ptr("0xbridge"),
	})
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Minute)
	rec, err := s.Upsert(ctx, "tx-1", models.Patch{BridgeStatus: json.RawMessage(`{"status":"PENDING"}`)})
	require.NoError(t, err)
	assert.Equal(t, "0xbridge", rec.BridgeTxHash)
	assert.Equal(t, "0xabc", rec.UserAddress)
	assert.JSONEq(t, `{"status":"PENDING"}`, string(rec.BridgeStatus))
	assert.Equal(t, clock.t, rec.UpdatedAt)
}

func TestUpsertIsIdempotent(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()
	patch := models.Patch{CurrentStep: models.Ptr(models.StepBridging), BridgeTxHash: models.Ptr("0x1")}

	first, err := s.Upsert(ctx, "tx-1", patch)
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Minute)
	second, err := s.Upsert(ctx, "tx-1", patch)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	all, err := s.List(ctx, models.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTerminalRecordsRejectTransitions(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_, err := s.Upsert(ctx, "tx-1", models.Patch{Status: models.Ptr(models.StatusCompleted), CurrentStep: models.Ptr(models.StepComplete)})
	require.NoError(t, err)

	tests := []struct {
		name    string
		patch   models.Patch
		wantErr bool
	}{
		{"same status", models.Patch{Status: models.Ptr(models.StatusCompleted)}, false},
		{"extra hash", models.Patch{DepositTxHash: models.Ptr("0xdep")}, false},
		{"back to pending", models.Patch{Status: models.Ptr(models.StatusPending)}, true},
		{"to failed", models.Patch{Status: models.Ptr(models.StatusFailed)}, true},
		{"step change", models.Patch{CurrentStep: models.Ptr(models.StepError)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Upsert(ctx, "tx-1", tt.patch)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	rec, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, "0xdep", rec.DepositTxHash)
}

func TestUpsertRejectsUnknownStatus(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.Upsert(context.Background(), "tx-1", models.Patch{Status: models.Ptr(models.Status("lost"))})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Upsert(context.Background(), "", models.Patch{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGetNotFound(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	rec, err := s.Upsert(ctx, "tx-1", models.Patch{BridgeStatus: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	rec.Status = models.StatusFailed
	rec.BridgeStatus[2] = 'b'

	stored, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.JSONEq(t, `{"a":1}`, string(stored.BridgeStatus))
}

func TestListViews(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()
	start := clock.t

	upsertAt := func(id string, at time.Time, user string, status models.Status) {
		clock.t = at
		_, err := s.Upsert(ctx, id, models.Patch{UserAddress: models.Ptr(user), Status: models.Ptr(status)})
		require.NoError(t, err)
	}

	upsertAt("old-pending", start, "0xAAA", models.StatusPending)
	upsertAt("fresh-pending", start.Add(50*time.Minute), "0xaaa", models.StatusPending)
	upsertAt("done", start.Add(55*time.Minute), "0xaaa", models.StatusCompleted)
	upsertAt("other-user", start.Add(56*time.Minute), "0xbbb", models.StatusPending)
	clock.t = start.Add(90 * time.Minute)

	ids := func(recs []*models.TransactionState) []string {
		out := make([]string, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.ID)
		}
		return out
	}

	pending, err := s.List(ctx, models.ListFilter{User: "0xaaa", View: models.ViewPending})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh-pending"}, ids(pending))

	history, err := s.List(ctx, models.ListFilter{User: "0xAaA", View: models.ViewHistory})
	require.NoError(t, err)
	assert.Equal(t, []string{"done", "old-pending"}, ids(history))

	byStatus, err := s.List(ctx, models.ListFilter{Status: models.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, []string{"other-user", "fresh-pending", "old-pending"}, ids(byStatus))
}
