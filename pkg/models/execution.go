package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// ExecutionStep is the in-memory state of one deposit attempt
type ExecutionStep int

const (
	StepIdle ExecutionStep = iota
	StepApprove
	StepSwap
	StepBridge
	StepDeposit
	StepCompleted
	StepFailed
	StepPartialFill
	StepCancelledByUser
)

var executionStepNames = map[ExecutionStep]string{
	StepIdle:            "idle",
	StepApprove:         "approving",
	StepSwap:            "swapping",
	StepBridge:          "bridging",
	StepDeposit:         "depositing",
	StepCompleted:       "complete",
	StepFailed:          "failed",
	StepPartialFill:     "partial",
	StepCancelledByUser: "cancelled",
}

func (s ExecutionStep) String() string {
	if name, ok := executionStepNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether the step ends the attempt
func (s ExecutionStep) IsTerminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepPartialFill, StepCancelledByUser:
		return true
	}
	return false
}

// PathKind identifies one of the four execution paths
type PathKind int

const (
	PathDirect PathKind = iota + 1
	PathSameChainSwap
	PathCrossChainAtomic
	PathCrossChainTwoPhase
)

func (k PathKind) String() string {
	switch k {
	case PathDirect:
		return "direct"
	case PathSameChainSwap:
		return "same_chain_swap"
	case PathCrossChainAtomic:
		return "cross_chain_atomic"
	case PathCrossChainTwoPhase:
		return "cross_chain_two_phase"
	}
	return "unknown"
}

// ExecutionPath is decided once per execution. Quote is the quote whose
// transaction is submitted; Atomic is set when that quote carries the deposit call.
type ExecutionPath struct {
	Kind   PathKind
	Quote  *Quote
	Atomic bool
}

// TxHashes holds the submitted leg hashes of one attempt
type TxHashes struct {
	Approve common.Hash `json:"approve"`
	Swap    common.Hash `json:"swap"`
	Bridge  common.Hash `json:"bridge"`
	Deposit common.Hash `json:"deposit"`
}

// Last returns the most advanced non-empty hash
func (h TxHashes) Last() common.Hash {
	for _, hash := range []common.Hash{h.Deposit, h.Bridge, h.Swap, h.Approve} {
		if hash != (common.Hash{}) {
			return hash
		}
	}
	return common.Hash{}
}

// ExecutionContext is the live state of one in-flight deposit attempt
type ExecutionContext struct {
	TransactionID string
	User          common.Address
	Vault         VaultConfig
	Step          ExecutionStep
	Path          ExecutionPath
	Quote         *Quote
	Intent        *SignedIntent
	Hashes        TxHashes
	Message       string
	LastError     error
}

// Update is delivered to subscribers on every step transition
type Update struct {
	TransactionID string        `json:"transaction_id"`
	Step          ExecutionStep `json:"step"`
	Status        Status        `json:"status"`
	CurrentStep   string        `json:"current_step"`
	Message       string        `json:"message,omitempty"`
	TxHash        string        `json:"tx_hash,omitempty"`
	ExplorerURL   string        `json:"explorer_url,omitempty"`
}
