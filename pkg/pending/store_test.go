package pending

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0xA11CE00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xB0B0000000000000000000000000000000000002")
)

func testIntent(id string, owner common.Address, createdAt time.Time) *models.PendingLocalIntent {
	return &models.PendingLocalIntent{
		TransactionID: id,
		Intent: models.DepositIntent{
			User:     owner,
			Vault:    common.HexToAddress("0x2"),
			Asset:    common.HexToAddress("0x3"),
			Amount:   big.NewInt(950_000),
			Nonce:    big.NewInt(1),
			Deadline: big.NewInt(createdAt.Add(time.Hour).Unix()),
		},
		Signature:        []byte{1, 2, 3},
		RouterAddress:    common.HexToAddress("0x4"),
		VaultID:          "usdc-base",
		EstimatedAmount:  big.NewInt(1_000_000),
		Owner:            owner,
		SourceChain:      42161,
		DestinationChain: 8453,
		BridgeTool:       "stargate",
		BridgeTxHash:     common.HexToHash("0xbb"),
		CreatedAt:        createdAt,
	}
}

// exerciseStore runs the same contract checks against any backend
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Put(ctx, testIntent("tx-2", alice, now.Add(time.Minute))))
	require.NoError(t, s.Put(ctx, testIntent("tx-1", alice, now)))
	require.NoError(t, s.Put(ctx, testIntent("tx-3", bob, now)))

	got, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, int64(950_000), got.Intent.Amount.Int64())
	assert.Equal(t, 8453, got.DestinationChain)
	assert.Equal(t, []byte{1, 2, 3}, []byte(got.Signature))

	list, err := s.ListByOwner(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "tx-1", list[0].TransactionID)
	assert.Equal(t, "tx-2", list[1].TransactionID)

	require.NoError(t, s.Delete(ctx, "tx-1"))
	require.NoError(t, s.Delete(ctx, "tx-1"))
	_, err = s.Get(ctx, "tx-1")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err = s.ListByOwner(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListByOwner(ctx, common.HexToAddress("0xdead"))
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.Delete(ctx, "tx-2"))
	require.NoError(t, s.Delete(ctx, "tx-3"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, testIntent("tx-1", alice, time.Now())))

	got, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	got.VaultID = "changed"

	again, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "usdc-base", again.VaultID)
}
