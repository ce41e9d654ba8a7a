package quoteclient

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/circuitbreaker"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quoteResponse = `{
	"id": "q-1",
	"type": "lifi",
	"tool": "stargate",
	"action": {
		"fromChainId": 42161,
		"toChainId": 8453,
		"fromToken": {"address": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", "decimals": 6, "symbol": "USDC"},
		"toToken": {"address": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "decimals": 6, "symbol": "USDC"},
		"fromAmount": "1000000"
	},
	"estimate": {
		"tool": "stargate",
		"approvalAddress": "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE",
		"toAmount": "998000",
		"toAmountMin": "993010",
		"executionDuration": 62.5,
		"feeCosts": [{"name": "LIFI Fixed Fee", "amountUSD": "0.0025", "included": true}],
		"gasCosts": [{"amountUSD": "0.12"}, {"amountUSD": "0.03"}]
	},
	"includedSteps": [
		{"type": "cross", "tool": "stargate", "action": {"fromChainId": 42161, "toChainId": 8453, "fromAmount": "1000000"}, "estimate": {"toAmount": "998000"}}
	],
	"transactionRequest": {
		"from": "0x1111111111111111111111111111111111111111",
		"to": "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE",
		"chainId": 42161,
		"data": "0xdeadbeef",
		"value": "0x0",
		"gasLimit": "0x493e0"
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, "secret", "vault-depositor", nil, &logger.EmptyLogger{})
}

func testRequest() models.QuoteRequest {
	return models.QuoteRequest{
		FromChain:   42161,
		ToChain:     8453,
		FromToken:   common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
		ToToken:     common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		FromAmount:  big.NewInt(1_000_000),
		FromAddress: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Slippage:    0.005,
	}
}

func TestGetQuoteNormalizes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-lifi-api-key"))
		q := r.URL.Query()
		assert.Equal(t, "42161", q.Get("fromChain"))
		assert.Equal(t, "8453", q.Get("toChain"))
		assert.Equal(t, "1000000", q.Get("fromAmount"))
		assert.Equal(t, q.Get("fromAddress"), q.Get("toAddress"))
		assert.Equal(t, "0.005", q.Get("slippage"))
		assert.Equal(t, "vault-depositor", q.Get("integrator"))
		_, _ = w.Write([]byte(quoteResponse))
	})

	quote, err := client.GetQuote(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "q-1", quote.ID)
	assert.Equal(t, "stargate", quote.Tool)
	assert.True(t, quote.IsCrossChain())
	assert.False(t, quote.HasContractCall)
	assert.Equal(t, int64(998000), quote.ToAmount.Int64())
	assert.Equal(t, int64(993010), quote.MinimumOut().Int64())
	assert.Equal(t, uint8(6), quote.ToDecimals)
	assert.Equal(t, 62500*time.Millisecond, quote.EstimatedDuration)
	assert.Equal(t, "0.15", quote.Fees.GasUSD.String())
	assert.Equal(t, "0.1525", quote.Fees.Total().String())
	require.Len(t, quote.Steps, 1)
	assert.Equal(t, "cross", quote.Steps[0].Type)

	require.NotNil(t, quote.Transaction)
	assert.Equal(t, 42161, quote.Transaction.ChainID)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, quote.Transaction.Data)
	assert.Equal(t, uint64(300000), quote.Transaction.GasLimit)
	assert.Equal(t, int64(0), quote.Transaction.Value.Int64())
	assert.Equal(t, common.HexToAddress("0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE"), quote.ApprovalAddress)
}

func TestGetQuoteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"not found", http.StatusNotFound, `{"message":"No available quotes for the requested transfer","code":1002}`, ErrNoRoute},
		{"no possible route", http.StatusBadRequest, `{"message":"none","code":1011}`, ErrNoRoute},
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrServiceUnavailable},
		{"server error", http.StatusBadGateway, `oops`, ErrServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.GetQuote(context.Background(), testRequest())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGetQuoteWithContractCall(t *testing.T) {
	var got contractCallsRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/quote/contractCalls", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(quoteResponse))
	})

	call := models.ContractCall{
		FromAmount:        big.NewInt(943359),
		FromTokenAddress:  common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		ToContractAddress: common.HexToAddress("0x4444444444444444444444444444444444444444"),
		ToApprovalAddress: common.HexToAddress("0x4444444444444444444444444444444444444444"),
		CallData:          []byte{0x01, 0x02},
	}
	quote, err := client.GetQuoteWithContractCall(context.Background(), testRequest(), call)
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.True(t, quote.HasContractCall)

	require.Len(t, got.ContractCalls, 1)
	assert.Equal(t, "943359", got.ToAmount)
	assert.Equal(t, "0x0102", got.ContractCalls[0].ToContractCallData)
	assert.Equal(t, "300000", got.ContractCalls[0].ToContractGasLimit)
}

func TestGetQuoteWithContractCallNoRoute(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no route","code":1002}`))
	})

	quote, err := client.GetQuoteWithContractCall(context.Background(), testRequest(), models.ContractCall{FromAmount: big.NewInt(1)})
	assert.NoError(t, err)
	assert.Nil(t, quote)
}

func TestGetTransferStatus(t *testing.T) {
	hash := common.HexToHash("0xabc")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		assert.Equal(t, "stargate", r.URL.Query().Get("bridge"))
		assert.Equal(t, hash.Hex(), r.URL.Query().Get("txHash"))
		_, _ = w.Write([]byte(`{
			"status": "DONE",
			"substatus": "PARTIAL",
			"substatusMessage": "The transfer was partially successful.",
			"tool": "stargate",
			"sending": {"txHash": "0xabc"},
			"receiving": {"txHash": "0xdef", "amount": "950000", "token": {"address": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}}
		}`))
	})

	status, err := client.GetTransferStatus(context.Background(), "stargate", 42161, 8453, hash)
	require.NoError(t, err)
	assert.Equal(t, models.TransferDone, status.Status)
	assert.Equal(t, models.SubstatusPartial, status.Substatus)
	assert.Equal(t, "0xdef", status.ReceivingTxHash)
	assert.Equal(t, int64(950000), status.ReceivedAmount.Int64())
	assert.NotEmpty(t, status.Raw)
}

func TestGetTransferStatusNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found"}`))
	})

	status, err := client.GetTransferStatus(context.Background(), "", 1, 10, common.HexToHash("0x1"))
	require.NoError(t, err)
	assert.Equal(t, models.TransferNotFound, status.Status)
}

func TestBreakerOpensOnServiceFailures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	breaker := circuitbreaker.NewCircuitBreaker("quote", true, 2, time.Minute, time.Minute, &logger.EmptyLogger{})
	client := New(server.URL, "", "", breaker, &logger.EmptyLogger{})

	for i := 0; i < 2; i++ {
		_, err := client.GetQuote(context.Background(), testRequest())
		assert.ErrorIs(t, err, ErrServiceUnavailable)
	}
	_, err := client.GetQuote(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, 2, calls)
	assert.True(t, breaker.IsOpen())
}
