// Package quoteclient provides a client for a LI.FI-compatible quote and bridge status service.
package quoteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/speedrun-hq/vault-depositor/pkg/circuitbreaker"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/metrics"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

var (
	// ErrNoRoute is returned when the service has no route for the requested transfer
	ErrNoRoute = errors.New("no route found")
	// ErrServiceUnavailable is returned for transport errors, 5xx and rate limiting
	ErrServiceUnavailable = errors.New("quote service unavailable")
)

// error codes the service uses for "no quote"
const (
	codeNoQuote         = 1002
	codeNoPossibleRoute = 1011
)

const (
	defaultHTTPTimeout    = 10 * time.Second
	defaultCallGasLimit   = 300000
	headerAPIKey          = "x-lifi-api-key"
	quoteKindPlain        = "quote"
	quoteKindContractCall = "contract_call"
	quoteKindStatus       = "status"
)

// Client represents a quote service client
type Client struct {
	endpoint   string
	apiKey     string
	integrator string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     logger.Logger
}

// New creates a new quote service client. breaker may be nil.
func New(endpoint, apiKey, integrator string, breaker *circuitbreaker.CircuitBreaker, log logger.Logger) *Client {
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker("quote", false, 0, 0, 0, log)
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		integrator: integrator,
		httpClient: createHTTPClient(),
		breaker:    breaker,
		logger:     log,
	}
}

// GetQuote fetches a plain swap or bridge quote
func (c *Client) GetQuote(ctx context.Context, req models.QuoteRequest) (*models.Quote, error) {
	params := url.Values{}
	params.Set("fromChain", strconv.Itoa(req.FromChain))
	params.Set("toChain", strconv.Itoa(req.ToChain))
	params.Set("fromToken", req.FromToken.Hex())
	params.Set("toToken", req.ToToken.Hex())
	params.Set("fromAmount", req.FromAmount.String())
	params.Set("fromAddress", req.FromAddress.Hex())
	toAddress := req.ToAddress
	if toAddress == (common.Address{}) {
		toAddress = req.FromAddress
	}
	params.Set("toAddress", toAddress.Hex())
	if req.Slippage > 0 {
		params.Set("slippage", strconv.FormatFloat(req.Slippage, 'f', -1, 64))
	}
	if c.integrator != "" {
		params.Set("integrator", c.integrator)
	}

	var resp lifiStep
	if err := c.call(ctx, quoteKindPlain, http.MethodGet, "/quote?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.normalize(false)
}

type contractCallsRequest struct {
	FromChain     int                `json:"fromChain"`
	FromToken     string             `json:"fromToken"`
	FromAddress   string             `json:"fromAddress"`
	ToChain       int                `json:"toChain"`
	ToToken       string             `json:"toToken"`
	ToAmount      string             `json:"toAmount"`
	ContractCalls []lifiContractCall `json:"contractCalls"`
	Integrator    string             `json:"integrator,omitempty"`
	Slippage      float64            `json:"slippage,omitempty"`
}

type lifiContractCall struct {
	FromAmount         string `json:"fromAmount"`
	FromTokenAddress   string `json:"fromTokenAddress"`
	ToContractAddress  string `json:"toContractAddress"`
	ToContractCallData string `json:"toContractCallData"`
	ToContractGasLimit string `json:"toContractGasLimit"`
	ToApprovalAddress  string `json:"toApprovalAddress,omitempty"`
}

// GetQuoteWithContractCall fetches a quote whose settlement invokes call on the
// destination chain. It returns nil without error when no route supports the call.
func (c *Client) GetQuoteWithContractCall(
	ctx context.Context,
	req models.QuoteRequest,
	call models.ContractCall,
) (*models.Quote, error) {
	gasLimit := call.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultCallGasLimit
	}

	body := contractCallsRequest{
		FromChain:   req.FromChain,
		FromToken:   req.FromToken.Hex(),
		FromAddress: req.FromAddress.Hex(),
		ToChain:     req.ToChain,
		ToToken:     call.FromTokenAddress.Hex(),
		ToAmount:    call.FromAmount.String(),
		ContractCalls: []lifiContractCall{{
			FromAmount:         call.FromAmount.String(),
			FromTokenAddress:   call.FromTokenAddress.Hex(),
			ToContractAddress:  call.ToContractAddress.Hex(),
			ToContractCallData: hexutil.Encode(call.CallData),
			ToContractGasLimit: strconv.FormatUint(gasLimit, 10),
			ToApprovalAddress:  call.ToApprovalAddress.Hex(),
		}},
		Integrator: c.integrator,
		Slippage:   req.Slippage,
	}

	var resp lifiStep
	err := c.call(ctx, quoteKindContractCall, http.MethodPost, "/quote/contractCalls", body, &resp)
	if errors.Is(err, ErrNoRoute) {
		c.logger.DebugWithChain(req.FromChain, "No contract call route to chain %d: %v", req.ToChain, err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.normalize(true)
}

// GetTransferStatus asks the service for the state of a bridge transfer.
// An unknown transfer is reported as status NOT_FOUND rather than as an error.
func (c *Client) GetTransferStatus(
	ctx context.Context,
	tool string,
	fromChain, toChain int,
	txHash common.Hash,
) (*models.TransferStatus, error) {
	params := url.Values{}
	if tool != "" {
		params.Set("bridge", tool)
	}
	params.Set("fromChain", strconv.Itoa(fromChain))
	params.Set("toChain", strconv.Itoa(toChain))
	params.Set("txHash", txHash.Hex())

	var raw json.RawMessage
	err := c.call(ctx, quoteKindStatus, http.MethodGet, "/status?"+params.Encode(), nil, &raw)
	if errors.Is(err, ErrNoRoute) {
		return &models.TransferStatus{Status: models.TransferNotFound, SendingTxHash: txHash.Hex()}, nil
	}
	if err != nil {
		return nil, err
	}

	var resp lifiStatus
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %v", err)
	}
	status, err := resp.normalize()
	if err != nil {
		return nil, err
	}
	status.Raw = raw
	return status, nil
}

type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// call performs one request through the circuit breaker and decodes the JSON body into out
func (c *Client) call(ctx context.Context, kind, method, path string, body interface{}, out interface{}) error {
	var raw []byte
	err := c.breaker.Do(func() error {
		var err error
		raw, err = c.do(ctx, method, path, body)
		return err
	}, func(err error) bool {
		return errors.Is(err, ErrServiceUnavailable)
	})

	switch {
	case err == nil:
		metrics.QuoteRequests.WithLabelValues(kind, "ok").Inc()
	case errors.Is(err, ErrNoRoute):
		metrics.QuoteRequests.WithLabelValues(kind, "no_route").Inc()
		return err
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.QuoteRequests.WithLabelValues(kind, "breaker_open").Inc()
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	default:
		metrics.QuoteRequests.WithLabelValues(kind, "error").Inc()
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %v, body: %s", kind, err, string(raw))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(headerAPIKey, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrServiceUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return bodyBytes, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrServiceUnavailable, resp.StatusCode, string(bodyBytes))
	}

	var apiErr apiError
	_ = json.Unmarshal(bodyBytes, &apiErr)
	if resp.StatusCode == http.StatusNotFound || apiErr.Code == codeNoQuote || apiErr.Code == codeNoPossibleRoute {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, apiErr.Message)
	}
	return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultHTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
