// Package txstate persists TransactionState records with per-field merge semantics.
package txstate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

const DefaultPendingRetention = time.Hour

var (
	// ErrNotFound is returned when no record exists for a transaction id
	ErrNotFound = errors.New("transaction state not found")
	// ErrInvalidTransition is returned when a patch would move a terminal record
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the Transaction State Store
type Store interface {
	// Upsert merges patch into the record for id, creating it if needed
	Upsert(ctx context.Context, id string, patch models.Patch) (*models.TransactionState, error)
	Get(ctx context.Context, id string) (*models.TransactionState, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.TransactionState, error)
}

// merge applies patch to existing (nil when the record does not exist yet) and
// returns the resulting record and whether it differs from what was stored
func merge(existing *models.TransactionState, id string, patch models.Patch, now time.Time) (*models.TransactionState, bool, error) {
	if id == "" {
		return nil, false, fmt.Errorf("%w: empty transaction id", ErrInvalidTransition)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, *patch.Status)
	}

	if existing == nil {
		rec := &models.TransactionState{
			ID:          id,
			Status:      models.StatusPending,
			CurrentStep: models.StepInitiated,
			CreatedAt:   now,
		}
		patch.Apply(rec)
		rec.UpdatedAt = now
		return rec, true, nil
	}

	if existing.Status.IsTerminal() {
		if patch.Status != nil && *patch.Status != existing.Status {
			return nil, false, fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidTransition, id, existing.Status, *patch.Status)
		}
		if patch.CurrentStep != nil && *patch.CurrentStep != existing.CurrentStep {
			return nil, false, fmt.Errorf("%w: %s is %s, cannot move to step %s", ErrInvalidTransition, id, existing.Status, *patch.CurrentStep)
		}
	}

	rec := clone(existing)
	if !patch.Apply(rec) {
		return rec, false, nil
	}
	rec.UpdatedAt = now
	return rec, true, nil
}

// InPendingView reports whether rec belongs to the "pending, needs attention" view
func InPendingView(rec *models.TransactionState, now time.Time, retention time.Duration) bool {
	return rec.Status == models.StatusPending && now.Sub(rec.CreatedAt) <= retention
}

func matches(rec *models.TransactionState, filter models.ListFilter, now time.Time, retention time.Duration) bool {
	if filter.User != "" && !strings.EqualFold(rec.UserAddress, filter.User) {
		return false
	}
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	switch filter.View {
	case models.ViewPending:
		return InPendingView(rec, now, retention)
	case models.ViewHistory:
		return !InPendingView(rec, now, retention)
	}
	return true
}

func sortNewestFirst(recs []*models.TransactionState) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

func clone(rec *models.TransactionState) *models.TransactionState {
	c := *rec
	if rec.BridgeStatus != nil {
		c.BridgeStatus = append([]byte(nil), rec.BridgeStatus...)
	}
	return &c
}
