package txstate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormStoreLive(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	s, err := OpenGormStore(dsn, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	id := uuid.NewString()
	user := "0x" + uuid.NewString()[:8]

	_, err = s.Upsert(ctx, id, models.Patch{UserAddress: models.Ptr(user), BridgeTxHash: models.Ptr("0xb")})
	require.NoError(t, err)
	rec, err := s.Upsert(ctx, id, models.Patch{Status: models.Ptr(models.StatusPartial), CurrentStep: models.Ptr(models.StepBridgePartial)})
	require.NoError(t, err)
	assert.Equal(t, "0xb", rec.BridgeTxHash)

	_, err = s.Upsert(ctx, id, models.Patch{Status: models.Ptr(models.StatusCompleted)})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, got.Status)

	history, err := s.List(ctx, models.ListFilter{User: user, View: models.ViewHistory})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].ID)

	_, err = s.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
