package nonce

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/contracts"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerStub struct {
	mu     sync.Mutex
	nonces map[common.Address]*big.Int
	reads  int
	err    error
}

func (r *routerStub) ReadContract(_ context.Context, _ int, _ common.Address, data []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	call, err := contracts.DecodeCall(data)
	if err != nil {
		return nil, err
	}
	user := call.Args[0].(common.Address)
	n, ok := r.nonces[user]
	if !ok {
		n = big.NewInt(0)
	}
	return contracts.EncodeUint256(n), nil
}

var (
	user   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	router = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func TestFreshAlwaysReadsChain(t *testing.T) {
	stub := &routerStub{nonces: map[common.Address]*big.Int{user: big.NewInt(7)}}
	src := NewSource(stub, 0, &logger.EmptyLogger{})

	n, err := src.Fresh(context.Background(), 8453, router, user)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n.Int64())

	stub.nonces[user] = big.NewInt(8)
	n, err = src.Fresh(context.Background(), 8453, router, user)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n.Int64())
	assert.Equal(t, 2, stub.reads)

	hint, ok := src.Hint(8453, router, user)
	require.True(t, ok)
	assert.Equal(t, int64(8), hint.Int64())
}

func TestCheckFresh(t *testing.T) {
	stub := &routerStub{nonces: map[common.Address]*big.Int{user: big.NewInt(3)}}
	src := NewSource(stub, 0, &logger.EmptyLogger{})

	signed := &models.SignedIntent{
		Intent:  models.DepositIntent{User: user, Nonce: big.NewInt(3)},
		Router:  router,
		ChainID: 8453,
	}
	assert.NoError(t, src.CheckFresh(context.Background(), signed))

	stub.nonces[user] = big.NewInt(4)
	assert.ErrorIs(t, src.CheckFresh(context.Background(), signed), ErrStale)
}

func TestCheckFreshRejectsLocallyUsedNonce(t *testing.T) {
	// node still reports the old counter
	stub := &routerStub{nonces: map[common.Address]*big.Int{user: big.NewInt(3)}}
	src := NewSource(stub, 0, &logger.EmptyLogger{})
	src.MarkUsed(8453, router, user, big.NewInt(3))

	signed := &models.SignedIntent{
		Intent:  models.DepositIntent{User: user, Nonce: big.NewInt(3)},
		Router:  router,
		ChainID: 8453,
	}
	assert.ErrorIs(t, src.CheckFresh(context.Background(), signed), ErrStale)
	assert.Equal(t, 0, stub.reads)

	hint, ok := src.Hint(8453, router, user)
	require.True(t, ok)
	assert.Equal(t, int64(4), hint.Int64())
}

func TestMarkUsedIsMonotonic(t *testing.T) {
	src := NewSource(&routerStub{}, 0, &logger.EmptyLogger{})
	src.MarkUsed(1, router, user, big.NewInt(5))
	src.MarkUsed(1, router, user, big.NewInt(2))

	signed := &models.SignedIntent{
		Intent:  models.DepositIntent{User: user, Nonce: big.NewInt(4)},
		Router:  router,
		ChainID: 1,
	}
	assert.ErrorIs(t, src.CheckFresh(context.Background(), signed), ErrStale)
}

func TestInvalidateAndReadError(t *testing.T) {
	stub := &routerStub{err: errors.New("rpc down")}
	src := NewSource(stub, 0, &logger.EmptyLogger{})
	src.MarkUsed(1, router, user, big.NewInt(1))
	src.Invalidate(1, router, user)

	_, ok := src.Hint(1, router, user)
	assert.False(t, ok)

	_, err := src.Fresh(context.Background(), 1, router, user)
	assert.Error(t, err)
}
