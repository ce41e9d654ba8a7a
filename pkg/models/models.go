package models

import (
	"encoding/json"
	"time"
)

// Status is the persisted lifecycle status of a deposit attempt
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further status change is allowed
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Step tokens stored in current_step, consumed by clients for labeling
const (
	StepInitiated       = "initiated"
	StepApproving       = "approving"
	StepSwapping        = "swapping"
	StepBridging        = "bridging"
	StepBridgeDelayed   = "bridge_delayed"
	StepBridgePartial   = "bridge_partial"
	StepAwaitingDeposit = "awaiting_deposit"
	StepDepositing      = "depositing"
	StepComplete        = "complete"
	StepCancelled       = "cancelled"
	StepError           = "error"
)

// TransactionState is the durable record of a deposit attempt. Its JSON form is
// also the wire format of the persistence API.
type TransactionState struct {
	ID               string          `json:"id" gorm:"primaryKey;size:64"`
	UserAddress      string          `json:"user_address" gorm:"index;size:42"`
	SourceChain      int             `json:"source_chain"`
	DestinationChain int             `json:"destination_chain"`
	VaultID          string          `json:"vault_id"`
	VaultAddress     string          `json:"vault_address" gorm:"size:42"`
	FromToken        string          `json:"from_token" gorm:"size:42"`
	FromAmount       string          `json:"from_amount"`
	ToToken          string          `json:"to_token" gorm:"size:42"`
	ToAmount         string          `json:"to_amount"`
	ApproveTxHash    string          `json:"approve_tx_hash,omitempty" gorm:"size:66"`
	SwapTxHash       string          `json:"swap_tx_hash,omitempty" gorm:"size:66"`
	BridgeTxHash     string          `json:"bridge_tx_hash,omitempty" gorm:"size:66"`
	DepositTxHash    string          `json:"deposit_tx_hash,omitempty" gorm:"size:66"`
	Status           Status          `json:"status" gorm:"index;size:16"`
	CurrentStep      string          `json:"current_step" gorm:"size:32"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	BridgeStatus     json.RawMessage `json:"bridge_status,omitempty" gorm:"type:jsonb"`
	CreatedAt        time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// LastTxHash returns the most advanced leg hash recorded so far
func (s *TransactionState) LastTxHash() string {
	for _, h := range []string{s.DepositTxHash, s.BridgeTxHash, s.SwapTxHash, s.ApproveTxHash} {
		if h != "" {
			return h
		}
	}
	return ""
}

// Patch carries the fields a single step transition changed. Nil fields are left untouched.
type Patch struct {
	UserAddress      *string         `json:"user_address,omitempty"`
	SourceChain      *int            `json:"source_chain,omitempty"`
	DestinationChain *int            `json:"destination_chain,omitempty"`
	VaultID          *string         `json:"vault_id,omitempty"`
	VaultAddress     *string         `json:"vault_address,omitempty"`
	FromToken        *string         `json:"from_token,omitempty"`
	FromAmount       *string         `json:"from_amount,omitempty"`
	ToToken          *string         `json:"to_token,omitempty"`
	ToAmount         *string         `json:"to_amount,omitempty"`
	ApproveTxHash    *string         `json:"approve_tx_hash,omitempty"`
	SwapTxHash       *string         `json:"swap_tx_hash,omitempty"`
	BridgeTxHash     *string         `json:"bridge_tx_hash,omitempty"`
	DepositTxHash    *string         `json:"deposit_tx_hash,omitempty"`
	Status           *Status         `json:"status,omitempty"`
	CurrentStep      *string         `json:"current_step,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	BridgeStatus     json.RawMessage `json:"bridge_status,omitempty"`
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}

// Apply merges the patch into s field by field and reports whether anything changed
func (p Patch) Apply(s *TransactionState) bool {
	changed := false
	setString := func(dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}

	setString(&s.UserAddress, p.UserAddress)
	setInt(&s.SourceChain, p.SourceChain)
	setInt(&s.DestinationChain, p.DestinationChain)
	setString(&s.VaultID, p.VaultID)
	setString(&s.VaultAddress, p.VaultAddress)
	setString(&s.FromToken, p.FromToken)
	setString(&s.FromAmount, p.FromAmount)
	setString(&s.ToToken, p.ToToken)
	setString(&s.ToAmount, p.ToAmount)
	setString(&s.ApproveTxHash, p.ApproveTxHash)
	setString(&s.SwapTxHash, p.SwapTxHash)
	setString(&s.BridgeTxHash, p.BridgeTxHash)
	setString(&s.DepositTxHash, p.DepositTxHash)
	setString(&s.CurrentStep, p.CurrentStep)
	setString(&s.ErrorMessage, p.ErrorMessage)

	if p.Status != nil && s.Status != *p.Status {
		s.Status = *p.Status
		changed = true
	}
	if len(p.BridgeStatus) > 0 && string(s.BridgeStatus) != string(p.BridgeStatus) {
		s.BridgeStatus = append(json.RawMessage(nil), p.BridgeStatus...)
		changed = true
	}
	return changed
}

// ListView selects which slice of a user's records List returns
type ListView string

const (
	// ViewAll returns every record
	ViewAll ListView = ""
	// ViewPending returns in-flight records younger than the retention window
	ViewPending ListView = "pending"
	// ViewHistory returns everything not in the pending view
	ViewHistory ListView = "history"
)

// ListFilter narrows a List call
type ListFilter struct {
	User   string
	Status Status
	View   ListView
}
