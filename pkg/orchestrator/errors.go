package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/speedrun-hq/vault-depositor/pkg/intent"
	"github.com/speedrun-hq/vault-depositor/pkg/nonce"
	"github.com/speedrun-hq/vault-depositor/pkg/quoteclient"
	"github.com/speedrun-hq/vault-depositor/pkg/wallet"
)

var (
	// ErrQuoteUnavailable is returned when no route converts the source asset into the vault asset
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrCapacityExceeded is returned when the vault cannot accept the amount
	ErrCapacityExceeded = errors.New("vault capacity exceeded")
	// ErrNonceStale is returned when the router nonce kept moving after one re-sign
	ErrNonceStale = errors.New("intent nonce is stale")
	// ErrApprovalFailed is returned when an approval is rejected or reverts
	ErrApprovalFailed = errors.New("approval failed")
	// ErrBridgeSubmitFailed is returned when a swap or bridge transaction is rejected or reverts
	ErrBridgeSubmitFailed = errors.New("bridge submission failed")
	// ErrDepositSubmitFailed is returned when the deposit transaction is rejected or reverts
	ErrDepositSubmitFailed = errors.New("deposit submission failed")
	// ErrBridgePartialFill is returned when the bridge settled only partially
	ErrBridgePartialFill = errors.New("bridge settled partially")
	// ErrBridgeNotSettled is returned when a deferred deposit is resumed before its bridge completed
	ErrBridgeNotSettled = errors.New("bridge transfer not settled yet")
	// ErrNotOwner is returned when the connected account does not own a pending intent
	ErrNotOwner = errors.New("pending intent belongs to another account")
)

// classifyError labels an error for metrics and user messages. The label never
// triggers an automatic resubmission.
func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuoteUnavailable), errors.Is(err, quoteclient.ErrNoRoute):
		return "no_route"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrNonceStale), errors.Is(err, nonce.ErrStale):
		return "nonce_stale"
	case errors.Is(err, intent.ErrInvalidIntent), errors.Is(err, intent.ErrSignerMismatch):
		return "invalid_intent"
	case errors.Is(err, wallet.ErrUserRejected):
		return "user_rejected"
	case errors.Is(err, quoteclient.ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}

	errStr := err.Error()

	if strings.Contains(errStr, "user rejected") ||
		strings.Contains(errStr, "User denied") {
		return "user_rejected"
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return "network_error"
	}

	if strings.Contains(errStr, "gas required exceeds allowance") ||
		strings.Contains(errStr, "insufficient funds for gas") ||
		strings.Contains(errStr, "gas price too low") {
		return "gas_error"
	}

	if strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "replacement transaction underpriced") {
		return "nonce_error"
	}

	if strings.Contains(errStr, "insufficient balance") ||
		strings.Contains(errStr, "insufficient funds") ||
		strings.Contains(errStr, "exceeds balance") {
		return "insufficient_funds"
	}

	if strings.Contains(errStr, "execution reverted") ||
		strings.Contains(errStr, "reverted") {
		return "contract_error"
	}

	return "unknown_error"
}

// userMessage renders the message stored with a failed record
func userMessage(err error) string {
	switch classifyError(err) {
	case "no_route":
		return "No route found. Try a different amount or token."
	case "capacity_exceeded":
		return "The vault cannot accept this amount right now."
	case "user_rejected":
		return "The request was rejected in the wallet."
	case "insufficient_funds":
		return "Insufficient balance to complete the deposit."
	}
	return err.Error()
}
