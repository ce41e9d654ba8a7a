package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// QuoteRequest holds the parameters of a plain swap or bridge quote
type QuoteRequest struct {
	FromChain   int
	ToChain     int
	FromToken   common.Address
	ToToken     common.Address
	FromAmount  *big.Int
	FromAddress common.Address
	ToAddress   common.Address
	Slippage    float64
}

// IsCrossChain reports whether the request moves value between chains
func (r QuoteRequest) IsCrossChain() bool {
	return r.FromChain != r.ToChain
}

// ContractCall is a destination-chain call attached to a quote
type ContractCall struct {
	FromAmount        *big.Int
	FromTokenAddress  common.Address
	ToContractAddress common.Address
	ToApprovalAddress common.Address
	CallData          []byte
	GasLimit          uint64
}

// FeeCost is a single named fee expressed in USD
type FeeCost struct {
	Name      string          `json:"name"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Included  bool            `json:"included"`
}

// FeeBreakdown splits quote costs into gas and protocol fees
type FeeBreakdown struct {
	GasUSD      decimal.Decimal `json:"gas_usd"`
	ProtocolFee []FeeCost       `json:"protocol_fees"`
}

// Total returns the sum of gas and protocol fees in USD
func (f FeeBreakdown) Total() decimal.Decimal {
	total := f.GasUSD
	for _, c := range f.ProtocolFee {
		total = total.Add(c.AmountUSD)
	}
	return total
}

// RouteStep is one hop of a route
type RouteStep struct {
	Type       string         `json:"type"`
	Tool       string         `json:"tool"`
	FromChain  int            `json:"from_chain"`
	ToChain    int            `json:"to_chain"`
	FromToken  common.Address `json:"from_token"`
	ToToken    common.Address `json:"to_token"`
	FromAmount *big.Int       `json:"from_amount"`
	ToAmount   *big.Int       `json:"to_amount"`
}

// TransactionRequest is the ready-to-send transaction attached to a quote
type TransactionRequest struct {
	ChainID  int            `json:"chain_id"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Data     []byte         `json:"data"`
	Value    *big.Int       `json:"value"`
	GasLimit uint64         `json:"gas_limit"`
}

// Quote is a normalized routing snapshot. It is never mutated once built;
// any change in amount, tokens or chains requires a new quote.
type Quote struct {
	ID                string              `json:"id"`
	Tool              string              `json:"tool"`
	FromChain         int                 `json:"from_chain"`
	ToChain           int                 `json:"to_chain"`
	FromToken         common.Address      `json:"from_token"`
	ToToken           common.Address      `json:"to_token"`
	FromDecimals      uint8               `json:"from_decimals"`
	ToDecimals        uint8               `json:"to_decimals"`
	FromAmount        *big.Int            `json:"from_amount"`
	ToAmount          *big.Int            `json:"to_amount"`
	ToAmountMin       *big.Int            `json:"to_amount_min"`
	Fees              FeeBreakdown        `json:"fees"`
	Steps             []RouteStep         `json:"steps"`
	HasContractCall   bool                `json:"has_contract_call"`
	EstimatedDuration time.Duration       `json:"estimated_duration"`
	ApprovalAddress   common.Address      `json:"approval_address"`
	Transaction       *TransactionRequest `json:"transaction,omitempty"`
}

// IsCrossChain reports whether the quote bridges between chains
func (q *Quote) IsCrossChain() bool {
	return q.FromChain != q.ToChain
}

// MinimumOut returns the slippage floor, falling back to the estimate when the floor is unknown
func (q *Quote) MinimumOut() *big.Int {
	if q.ToAmountMin != nil && q.ToAmountMin.Sign() > 0 {
		return new(big.Int).Set(q.ToAmountMin)
	}
	if q.ToAmount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(q.ToAmount)
}

// TransferStatus is the normalized answer of the bridge status service
type TransferStatus struct {
	Status           string   `json:"status"`
	Substatus        string   `json:"substatus,omitempty"`
	SubstatusMessage string   `json:"substatusMessage,omitempty"`
	Tool             string   `json:"tool,omitempty"`
	SendingTxHash    string   `json:"sendingTxHash,omitempty"`
	ReceivingTxHash  string   `json:"receivingTxHash,omitempty"`
	ReceivedAmount   *big.Int `json:"receivedAmount,omitempty"`
	ReceivedToken    string   `json:"receivedToken,omitempty"`
	Raw              []byte   `json:"-"`
}

// Bridge status values reported by the status service
const (
	TransferDone     = "DONE"
	TransferPending  = "PENDING"
	TransferFailed   = "FAILED"
	TransferNotFound = "NOT_FOUND"
	TransferInvalid  = "INVALID"

	SubstatusCompleted = "COMPLETED"
	SubstatusPartial   = "PARTIAL"
	SubstatusRefunded  = "REFUNDED"
)
