// Package nonce reads router replay-protection counters.
//
// The router contract is always the source of truth. Values cached here are
// hints used for logging and for rejecting obviously reused nonces before broadcast.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jellydator/ttlcache/v3"
	"github.com/speedrun-hq/vault-depositor/pkg/contracts"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

const DefaultHintTTL = 10 * time.Minute

// ErrStale is returned when a signed nonce no longer matches the router counter
var ErrStale = errors.New("stale intent nonce")

// ContractReader performs eth_call against a chain
type ContractReader interface {
	ReadContract(ctx context.Context, chainID int, to common.Address, data []byte) ([]byte, error)
}

// Source fetches router nonces and remembers the last one consumed per user
type Source struct {
	reader ContractReader
	hints  *ttlcache.Cache[string, *big.Int]
	used   *ttlcache.Cache[string, *big.Int]
	logger logger.Logger
}

// NewSource creates a nonce source reading through reader
func NewSource(reader ContractReader, ttl time.Duration, log logger.Logger) *Source {
	if ttl <= 0 {
		ttl = DefaultHintTTL
	}
	return &Source{
		reader: reader,
		hints:  ttlcache.New(ttlcache.WithTTL[string, *big.Int](ttl)),
		used:   ttlcache.New(ttlcache.WithTTL[string, *big.Int](ttl)),
		logger: log,
	}
}

func key(chainID int, router, user common.Address) string {
	return fmt.Sprintf("%d:%s:%s", chainID, strings.ToLower(router.Hex()), strings.ToLower(user.Hex()))
}

// Fresh reads the current nonce for user from the router on chainID.
// It never answers from cache.
func (s *Source) Fresh(ctx context.Context, chainID int, router, user common.Address) (*big.Int, error) {
	data, err := contracts.PackNonces(user)
	if err != nil {
		return nil, err
	}

	out, err := s.reader.ReadContract(ctx, chainID, router, data)
	if err != nil {
		return nil, fmt.Errorf("failed to read router nonce: %w", err)
	}

	current, err := contracts.UnpackNonces(out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode router nonce: %w", err)
	}

	k := key(chainID, router, user)
	if hint := s.hints.Get(k); hint != nil && hint.Value().Cmp(current) != 0 {
		s.logger.DebugWithChain(chainID, "Router nonce for %s moved from %s to %s", user.Hex(), hint.Value(), current)
	}
	s.hints.Set(k, new(big.Int).Set(current), ttlcache.DefaultTTL)

	return current, nil
}

// Hint returns the last nonce observed for user, if any
func (s *Source) Hint(chainID int, router, user common.Address) (*big.Int, bool) {
	item := s.hints.Get(key(chainID, router, user))
	if item == nil {
		return nil, false
	}
	return new(big.Int).Set(item.Value()), true
}

// CheckFresh re-reads the router counter and returns ErrStale if the signed
// intent can no longer be redeemed. It also rejects nonces already consumed
// by a deposit this process observed, even if the RPC node still lags behind.
func (s *Source) CheckFresh(ctx context.Context, signed *models.SignedIntent) error {
	user := signed.Intent.User
	signedNonce := signed.Intent.Nonce
	if signedNonce == nil {
		return fmt.Errorf("%w: intent has no nonce", ErrStale)
	}

	if item := s.used.Get(key(signed.ChainID, signed.Router, user)); item != nil && signedNonce.Cmp(item.Value()) <= 0 {
		return fmt.Errorf("%w: nonce %s was already used", ErrStale, signedNonce)
	}

	current, err := s.Fresh(ctx, signed.ChainID, signed.Router, user)
	if err != nil {
		return err
	}
	if current.Cmp(signedNonce) != 0 {
		return fmt.Errorf("%w: signed %s, router expects %s", ErrStale, signedNonce, current)
	}
	return nil
}

// MarkUsed records that nonce was consumed by a confirmed deposit
func (s *Source) MarkUsed(chainID int, router, user common.Address, nonce *big.Int) {
	k := key(chainID, router, user)
	if item := s.used.Get(k); item != nil && item.Value().Cmp(nonce) >= 0 {
		return
	}
	s.used.Set(k, new(big.Int).Set(nonce), ttlcache.DefaultTTL)
	s.hints.Set(k, new(big.Int).Add(nonce, big.NewInt(1)), ttlcache.DefaultTTL)
}

// Invalidate drops the cached hint for user so nothing stale survives a failed attempt
func (s *Source) Invalidate(chainID int, router, user common.Address) {
	s.hints.Delete(key(chainID, router, user))
}
