// Package intent builds and signs the EIP-712 deposit authorization redeemed by the router.
package intent

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

const (
	DomainName    = "VaultDepositRouter"
	DomainVersion = "1"
	PrimaryType   = "DepositIntent"
)

var (
	// ErrInvalidIntent is returned for intents that violate amount or deadline rules
	ErrInvalidIntent = errors.New("invalid deposit intent")
	// ErrSignerMismatch is returned when a signature does not recover to the intent user
	ErrSignerMismatch = errors.New("signature does not match intent user")
)

// TypedDataSigner is the part of a wallet able to sign EIP-712 payloads
type TypedDataSigner interface {
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// Validate checks the intent can still be signed or submitted at now
func Validate(intent models.DepositIntent, now time.Time) error {
	if intent.Amount == nil || intent.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be greater than 0", ErrInvalidIntent)
	}
	if intent.Nonce == nil || intent.Nonce.Sign() < 0 {
		return fmt.Errorf("%w: nonce is not set", ErrInvalidIntent)
	}
	if intent.Expired(now) {
		return fmt.Errorf("%w: deadline %v is not in the future", ErrInvalidIntent, intent.Deadline)
	}
	return nil
}

// TypedData returns the EIP-712 payload for intent, domain-separated by the
// destination chain and router
func TypedData(intent models.DepositIntent, chainID int, router common.Address) apitypes.TypedData {
	domainChainID := math.HexOrDecimal256(*big.NewInt(int64(chainID)))
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			PrimaryType: []apitypes.Type{
				{Name: "user", Type: "address"},
				{Name: "vault", Type: "address"},
				{Name: "asset", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           &domainChainID,
			VerifyingContract: router.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"user":     intent.User.Hex(),
			"vault":    intent.Vault.Hex(),
			"asset":    intent.Asset.Hex(),
			"amount":   intent.Amount,
			"nonce":    intent.Nonce,
			"deadline": intent.Deadline,
		},
	}
}

// Hash calculates the digest the router recovers the signer from
func Hash(intent models.DepositIntent, chainID int, router common.Address) ([]byte, error) {
	typedData := TypedData(intent, chainID, router)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, err
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, err
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	return crypto.Keccak256(rawData), nil
}

// Sign validates intent, asks signer for a signature and verifies it locally before returning
func Sign(
	ctx context.Context,
	signer TypedDataSigner,
	intent models.DepositIntent,
	chainID int,
	router common.Address,
	now time.Time,
) (*models.SignedIntent, error) {
	if err := Validate(intent, now); err != nil {
		return nil, err
	}

	signature, err := signer.SignTypedData(ctx, TypedData(intent, chainID, router))
	if err != nil {
		return nil, fmt.Errorf("failed to sign intent: %w", err)
	}

	signed := &models.SignedIntent{
		Intent:    intent,
		Signature: signature,
		Router:    router,
		ChainID:   chainID,
	}
	if err := Verify(signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// Verify checks the signature recovers to the intent user
func Verify(signed *models.SignedIntent) error {
	if len(signed.Signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: signature length %d", ErrSignerMismatch, len(signed.Signature))
	}

	digest, err := Hash(signed.Intent, signed.ChainID, signed.Router)
	if err != nil {
		return fmt.Errorf("failed to hash intent: %v", err)
	}

	sig := append([]byte(nil), signed.Signature...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerMismatch, err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != signed.Intent.User {
		return fmt.Errorf("%w: recovered %s, expected %s", ErrSignerMismatch, recovered.Hex(), signed.Intent.User.Hex())
	}
	return nil
}

// NewDepositIntent assembles an unsigned intent for vault with a deadline ttl from now
func NewDepositIntent(
	user common.Address,
	vault models.VaultConfig,
	amount *big.Int,
	nonce *big.Int,
	ttl time.Duration,
	now time.Time,
) models.DepositIntent {
	return models.DepositIntent{
		User:     user,
		Vault:    vault.Address,
		Asset:    vault.Asset,
		Amount:   new(big.Int).Set(amount),
		Nonce:    new(big.Int).Set(nonce),
		Deadline: big.NewInt(now.Add(ttl).Unix()),
	}
}
