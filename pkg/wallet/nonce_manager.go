package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
)

// NonceReader reads the next account nonce including pending transactions
type NonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// TransactionStatus represents the status of a sent transaction
type TransactionStatus int

const (
	// TxPending indicates transaction is pending
	TxPending TransactionStatus = iota
	// TxConfirmed indicates transaction is mined
	TxConfirmed
	// TxFailed indicates the transaction never made it into the pool
	TxFailed
)

// TransactionRecord tracks details about a transaction
type TransactionRecord struct {
	Hash      common.Hash
	Nonce     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    TransactionStatus
}

// NonceManager allocates account nonces so concurrent deposits sharing
// one key never reuse a nonce on the same chain
type NonceManager struct {
	chains    map[int]*chainNonceData
	mu        sync.RWMutex
	syncEvery time.Duration
	logger    logger.Logger
}

// chainNonceData holds nonce data for a specific chain
type chainNonceData struct {
	currentNonce uint64
	pendingTxs   map[uint64]*TransactionRecord
	lastSync     time.Time
	mu           sync.Mutex
}

// NewNonceManager creates a new nonce manager
func NewNonceManager(log logger.Logger) *NonceManager {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &NonceManager{
		chains:    make(map[int]*chainNonceData),
		syncEvery: 5 * time.Minute,
		logger:    log,
	}
}

// chain returns the chain data, creating it on first use
func (nm *NonceManager) chain(chainID int) *chainNonceData {
	nm.mu.RLock()
	data, exists := nm.chains[chainID]
	nm.mu.RUnlock()
	if exists {
		return data
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	if data, exists = nm.chains[chainID]; !exists {
		data = &chainNonceData{pendingTxs: make(map[uint64]*TransactionRecord)}
		nm.chains[chainID] = data
	}
	return data
}

// GetNonce reserves and returns the next available nonce
func (nm *NonceManager) GetNonce(ctx context.Context, chainID int, reader NonceReader, address common.Address) (uint64, error) {
	data := nm.chain(chainID)
	data.mu.Lock()
	defer data.mu.Unlock()

	if data.lastSync.IsZero() || time.Since(data.lastSync) > nm.syncEvery || len(data.pendingTxs) == 0 {
		nonce, err := reader.PendingNonceAt(ctx, address)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}
		if nonce > data.currentNonce {
			nm.logger.DebugWithChain(chainID, "Updating account nonce: %d -> %d", data.currentNonce, nonce)
			data.currentNonce = nonce
		}
		data.lastSync = time.Now()
	}

	nonce := data.currentNonce
	data.currentNonce++
	return nonce, nil
}

// TrackTransaction records a broadcast transaction
func (nm *NonceManager) TrackTransaction(chainID int, txHash common.Hash, nonce uint64) {
	data := nm.chain(chainID)
	data.mu.Lock()
	defer data.mu.Unlock()

	now := time.Now()
	data.pendingTxs[nonce] = &TransactionRecord{
		Hash:      txHash,
		Nonce:     nonce,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    TxPending,
	}
	nm.logger.DebugWithChain(chainID, "Tracking transaction with nonce %d: %s", nonce, txHash.Hex())
}

// MarkTransactionConfirmed drops a mined transaction from the pending set.
// A mined transaction consumed its nonce whether or not it reverted.
func (nm *NonceManager) MarkTransactionConfirmed(chainID int, nonce uint64) bool {
	data := nm.chain(chainID)
	data.mu.Lock()
	defer data.mu.Unlock()

	if _, exists := data.pendingTxs[nonce]; !exists {
		return false
	}
	delete(data.pendingTxs, nonce)
	return true
}

// MarkTransactionFailed releases a nonce whose transaction was never accepted.
// The nonce is handed out again only if nothing above it is pending.
func (nm *NonceManager) MarkTransactionFailed(chainID int, nonce uint64) bool {
	data := nm.chain(chainID)
	data.mu.Lock()
	defer data.mu.Unlock()

	delete(data.pendingTxs, nonce)
	for pending := range data.pendingTxs {
		if pending > nonce {
			return false
		}
	}
	if data.currentNonce == nonce+1 {
		data.currentNonce = nonce
		nm.logger.DebugWithChain(chainID, "Reusing nonce %d after failed send", nonce)
		return true
	}
	return false
}

// SyncWithBlockchain forces the next allocation to consult the chain
func (nm *NonceManager) SyncWithBlockchain(ctx context.Context, chainID int, reader NonceReader, address common.Address) error {
	data := nm.chain(chainID)
	data.mu.Lock()
	defer data.mu.Unlock()

	nonce, err := reader.PendingNonceAt(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %v", err)
	}
	if nonce > data.currentNonce {
		data.currentNonce = nonce
	}
	data.lastSync = time.Now()
	return nil
}

// GetPendingTransactionsCount returns the number of pending transactions for a chain
func (nm *NonceManager) GetPendingTransactionsCount(chainID int) int {
	data := nm.chain(chainID)
	data.mu.Lock()
	defer data.mu.Unlock()
	return len(data.pendingTxs)
}
