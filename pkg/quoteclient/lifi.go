package quoteclient

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

type lifiToken struct {
	Address  string `json:"address"`
	ChainID  int    `json:"chainId"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type lifiAction struct {
	FromChainID int       `json:"fromChainId"`
	ToChainID   int       `json:"toChainId"`
	FromToken   lifiToken `json:"fromToken"`
	ToToken     lifiToken `json:"toToken"`
	FromAmount  string    `json:"fromAmount"`
	FromAddress string    `json:"fromAddress"`
	ToAddress   string    `json:"toAddress"`
}

type lifiCost struct {
	Name      string `json:"name"`
	AmountUSD string `json:"amountUSD"`
	Included  bool   `json:"included"`
}

type lifiEstimate struct {
	Tool              string     `json:"tool"`
	ApprovalAddress   string     `json:"approvalAddress"`
	FromAmount        string     `json:"fromAmount"`
	ToAmount          string     `json:"toAmount"`
	ToAmountMin       string     `json:"toAmountMin"`
	ExecutionDuration float64    `json:"executionDuration"`
	FeeCosts          []lifiCost `json:"feeCosts"`
	GasCosts          []lifiCost `json:"gasCosts"`
}

type lifiTransactionRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	ChainID  int    `json:"chainId"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasLimit string `json:"gasLimit"`
}

// lifiStep is a quote as returned by /quote and /quote/contractCalls
type lifiStep struct {
	ID                 string                  `json:"id"`
	Type               string                  `json:"type"`
	Tool               string                  `json:"tool"`
	Action             lifiAction              `json:"action"`
	Estimate           lifiEstimate            `json:"estimate"`
	IncludedSteps      []lifiStep              `json:"includedSteps"`
	TransactionRequest *lifiTransactionRequest `json:"transactionRequest"`
}

// normalize converts the service quote into a models.Quote
func (s lifiStep) normalize(hasContractCall bool) (*models.Quote, error) {
	fromAmount, err := parseAmount(s.Action.FromAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid fromAmount: %v", err)
	}
	toAmount, err := parseAmount(s.Estimate.ToAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid toAmount: %v", err)
	}
	toAmountMin, err := parseAmount(s.Estimate.ToAmountMin)
	if err != nil {
		return nil, fmt.Errorf("invalid toAmountMin: %v", err)
	}
	if toAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: quote returns nothing", ErrNoRoute)
	}

	tool := s.Tool
	if tool == "" {
		tool = s.Estimate.Tool
	}

	quote := &models.Quote{
		ID:                s.ID,
		Tool:              tool,
		FromChain:         s.Action.FromChainID,
		ToChain:           s.Action.ToChainID,
		FromToken:         common.HexToAddress(s.Action.FromToken.Address),
		ToToken:           common.HexToAddress(s.Action.ToToken.Address),
		FromDecimals:      s.Action.FromToken.Decimals,
		ToDecimals:        s.Action.ToToken.Decimals,
		FromAmount:        fromAmount,
		ToAmount:          toAmount,
		ToAmountMin:       toAmountMin,
		Fees:              normalizeFees(s.Estimate),
		HasContractCall:   hasContractCall,
		EstimatedDuration: time.Duration(s.Estimate.ExecutionDuration * float64(time.Second)),
	}
	if s.Estimate.ApprovalAddress != "" {
		quote.ApprovalAddress = common.HexToAddress(s.Estimate.ApprovalAddress)
	}

	steps := s.IncludedSteps
	if len(steps) == 0 {
		steps = []lifiStep{s}
	}
	for _, step := range steps {
		stepFrom, _ := parseAmount(step.Action.FromAmount)
		stepTo, _ := parseAmount(step.Estimate.ToAmount)
		quote.Steps = append(quote.Steps, models.RouteStep{
			Type:       step.Type,
			Tool:       step.Tool,
			FromChain:  step.Action.FromChainID,
			ToChain:    step.Action.ToChainID,
			FromToken:  common.HexToAddress(step.Action.FromToken.Address),
			ToToken:    common.HexToAddress(step.Action.ToToken.Address),
			FromAmount: stepFrom,
			ToAmount:   stepTo,
		})
	}

	if s.TransactionRequest != nil {
		tx, err := s.TransactionRequest.normalize(quote.FromChain)
		if err != nil {
			return nil, err
		}
		quote.Transaction = tx
	}

	return quote, nil
}

func (r lifiTransactionRequest) normalize(fallbackChain int) (*models.TransactionRequest, error) {
	data, err := hexutil.Decode(r.Data)
	if err != nil && r.Data != "" {
		return nil, fmt.Errorf("invalid transaction data: %v", err)
	}
	value, err := parseAmount(r.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction value: %v", err)
	}
	gasLimit, err := parseAmount(r.GasLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction gas limit: %v", err)
	}

	chainID := r.ChainID
	if chainID == 0 {
		chainID = fallbackChain
	}

	return &models.TransactionRequest{
		ChainID:  chainID,
		From:     common.HexToAddress(r.From),
		To:       common.HexToAddress(r.To),
		Data:     data,
		Value:    value,
		GasLimit: gasLimit.Uint64(),
	}, nil
}

func normalizeFees(e lifiEstimate) models.FeeBreakdown {
	var fees models.FeeBreakdown
	for _, gas := range e.GasCosts {
		fees.GasUSD = fees.GasUSD.Add(parseUSD(gas.AmountUSD))
	}
	for _, fee := range e.FeeCosts {
		fees.ProtocolFee = append(fees.ProtocolFee, models.FeeCost{
			Name:      fee.Name,
			AmountUSD: parseUSD(fee.AmountUSD),
			Included:  fee.Included,
		})
	}
	return fees
}

type lifiTransferLeg struct {
	TxHash  string    `json:"txHash"`
	TxLink  string    `json:"txLink"`
	Amount  string    `json:"amount"`
	Token   lifiToken `json:"token"`
	ChainID int       `json:"chainId"`
}

// lifiStatus is the /status response
type lifiStatus struct {
	Status           string          `json:"status"`
	Substatus        string          `json:"substatus"`
	SubstatusMessage string          `json:"substatusMessage"`
	Tool             string          `json:"tool"`
	Sending          lifiTransferLeg `json:"sending"`
	Receiving        lifiTransferLeg `json:"receiving"`
}

func (s lifiStatus) normalize() (*models.TransferStatus, error) {
	received, err := parseAmount(s.Receiving.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid received amount: %v", err)
	}

	status := &models.TransferStatus{
		Status:           strings.ToUpper(s.Status),
		Substatus:        strings.ToUpper(s.Substatus),
		SubstatusMessage: s.SubstatusMessage,
		Tool:             s.Tool,
		SendingTxHash:    s.Sending.TxHash,
		ReceivingTxHash:  s.Receiving.TxHash,
		ReceivedToken:    s.Receiving.Token.Address,
	}
	if received.Sign() > 0 {
		status.ReceivedAmount = received
	}
	return status, nil
}

// parseAmount accepts decimal or 0x-prefixed integers; empty means zero
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("cannot parse %q", s)
	}
	return v, nil
}

func parseUSD(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
