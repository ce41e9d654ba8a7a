package contracts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	user   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	vault  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	asset  = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	router = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func TestDepositWithIntentCalldata(t *testing.T) {
	intent := models.DepositIntent{
		User:     user,
		Vault:    vault,
		Asset:    asset,
		Amount:   big.NewInt(1_000_000),
		Nonce:    big.NewInt(7),
		Deadline: big.NewInt(1_700_000_000),
	}
	signature := make([]byte, 65)
	signature[64] = 27

	data, err := PackDepositWithIntent(intent, signature)
	require.NoError(t, err)

	decoded, sig, err := UnpackDepositWithIntent(data)
	require.NoError(t, err)
	assert.Equal(t, intent.User, decoded.User)
	assert.Equal(t, intent.Vault, decoded.Vault)
	assert.Equal(t, 0, intent.Amount.Cmp(decoded.Amount))
	assert.Equal(t, 0, intent.Nonce.Cmp(decoded.Nonce))
	assert.Equal(t, signature, sig)

	call, err := DecodeCall(data)
	require.NoError(t, err)
	assert.Equal(t, "depositWithIntent", call.Method)
}

func TestPackDepositWithIntentRejectsUnsetFields(t *testing.T) {
	_, err := PackDepositWithIntent(models.DepositIntent{User: user}, nil)
	assert.Error(t, err)
}

func TestDecodeERC20Calls(t *testing.T) {
	data, err := PackApprove(router, big.NewInt(1001))
	require.NoError(t, err)

	call, err := DecodeCall(data)
	require.NoError(t, err)
	assert.Equal(t, "approve", call.Method)
	assert.Equal(t, router, call.Args[0].(common.Address))
	assert.Equal(t, int64(1001), call.Args[1].(*big.Int).Int64())

	data, err = PackMaxDeposit(router)
	require.NoError(t, err)
	call, err = DecodeCall(data)
	require.NoError(t, err)
	assert.Equal(t, "maxDeposit", call.Method)

	_, err = DecodeCall([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}

func TestUnpackUint256Results(t *testing.T) {
	v, err := UnpackNonces(EncodeUint256(big.NewInt(42)))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	v, err = UnpackAllowance(EncodeUint256(big.NewInt(5)))
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Int64())

	_, err = UnpackBalanceOf(nil)
	assert.Error(t, err)

	d, err := UnpackDecimals(EncodeUint256(big.NewInt(6)))
	require.NoError(t, err)
	assert.Equal(t, uint8(6), d)
}

func TestParseIntentDeposited(t *testing.T) {
	l, err := PackIntentDepositedLog(router, user, vault, big.NewInt(100), big.NewInt(99), big.NewInt(3))
	require.NoError(t, err)

	receipt := &types.Receipt{Logs: []*types.Log{l}}
	event, ok := ParseIntentDeposited(router, receipt)
	require.True(t, ok)
	assert.Equal(t, user, event.User)
	assert.Equal(t, vault, event.Vault)
	assert.Equal(t, int64(99), event.Shares.Int64())

	_, ok = ParseIntentDeposited(vault, receipt)
	assert.False(t, ok, "logs from other contracts are ignored")
}
