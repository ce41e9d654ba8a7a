package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
)

// defaultReceiptPoll is how often WaitForReceipt asks for the receipt
const defaultReceiptPoll = time.Second

type sentTx struct {
	chainID int
	nonce   uint64
}

// KeyedWallet signs with a local private key and talks to chains through RPC clients
type KeyedWallet struct {
	key         *ecdsa.PrivateKey
	address     common.Address
	clients     map[int]*ChainClient
	nonces      *NonceManager
	routines    []*GasPriceRoutine
	receiptPoll time.Duration
	logger      logger.Logger

	mu        sync.Mutex
	connected int
	sent      map[common.Hash]sentTx
}

var _ Wallet = (*KeyedWallet)(nil)

// NewKeyedWallet creates a wallet from a hex private key and a set of chain clients
func NewKeyedWallet(privateKeyHex string, clients map[int]*ChainClient, log logger.Logger) (*KeyedWallet, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("at least one chain client is required")
	}

	return &KeyedWallet{
		key:         key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		clients:     clients,
		nonces:      NewNonceManager(log),
		receiptPoll: defaultReceiptPoll,
		logger:      log,
		sent:        make(map[common.Hash]sentTx),
	}, nil
}

// SetReceiptPollInterval overrides how often receipts are polled
func (w *KeyedWallet) SetReceiptPollInterval(d time.Duration) {
	w.receiptPoll = d
}

// StartGasPriceUpdates launches one gas price routine per chain
func (w *KeyedWallet) StartGasPriceUpdates(ctx context.Context, interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, client := range w.clients {
		routine := NewGasPriceRoutine(client, interval, w.logger)
		routine.Start(ctx)
		w.routines = append(w.routines, routine)
	}
}

// Close stops background routines and reports transactions that were sent but
// never seen mined
func (w *KeyedWallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, routine := range w.routines {
		routine.Stop()
	}
	w.routines = nil

	for chainID := range w.clients {
		if n := w.nonces.GetPendingTransactionsCount(chainID); n > 0 {
			w.logger.NoticeWithChain(chainID, "%d sent transactions were not confirmed before shutdown", n)
		}
	}
}

func (w *KeyedWallet) Address() common.Address {
	return w.address
}

func (w *KeyedWallet) ConnectedChainID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *KeyedWallet) SwitchChain(_ context.Context, chainID int) error {
	if _, err := w.client(chainID); err != nil {
		return err
	}
	w.mu.Lock()
	w.connected = chainID
	w.mu.Unlock()
	return nil
}

// SignTypedData signs the EIP-712 digest of data and returns a 65 byte [R || S || V] signature with V in {27, 28}
func (w *KeyedWallet) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %v", err)
	}
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (w *KeyedWallet) ReadContract(ctx context.Context, chainID int, to common.Address, data []byte) ([]byte, error) {
	client, err := w.client(chainID)
	if err != nil {
		return nil, err
	}
	return client.Backend.CallContract(ctx, ethereum.CallMsg{From: w.address, To: &to, Data: data}, nil)
}

// SendTransaction estimates, signs and broadcasts a legacy transaction
func (w *KeyedWallet) SendTransaction(ctx context.Context, chainID int, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	client, err := w.client(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	if value == nil {
		value = big.NewInt(0)
	}

	// estimate before reserving a nonce so a reverting call does not leave a gap
	gasLimit, err := client.Backend.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Data: data, Value: value})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gasLimit = gasLimit * 12 / 10

	gasPrice, err := client.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	unsigned := &types.LegacyTx{
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	}
	signed, err := w.signAndSend(ctx, client, chainID, unsigned)
	if isNonceTooLow(err) {
		// another sender used this key; resync with the node and try once more
		w.logger.NoticeWithChain(chainID, "Account nonce out of sync (%v), resyncing", err)
		if syncErr := w.nonces.SyncWithBlockchain(ctx, chainID, client.Backend, w.address); syncErr != nil {
			return common.Hash{}, err
		}
		signed, err = w.signAndSend(ctx, client, chainID, unsigned)
	}
	if err != nil {
		return common.Hash{}, err
	}
	nonce := signed.Nonce()

	hash := signed.Hash()
	w.nonces.TrackTransaction(chainID, hash, nonce)
	w.mu.Lock()
	w.sent[hash] = sentTx{chainID: chainID, nonce: nonce}
	w.mu.Unlock()

	w.logger.InfoWithChain(chainID, "Transaction sent: %s (nonce: %d)", hash.Hex(), nonce)
	return hash, nil
}

// signAndSend reserves a nonce for tx, signs and broadcasts it. The nonce is
// released when the node does not accept the transaction.
func (w *KeyedWallet) signAndSend(ctx context.Context, client *ChainClient, chainID int, tx *types.LegacyTx) (*types.Transaction, error) {
	nonce, err := w.nonces.GetNonce(ctx, chainID, client.Backend, w.address)
	if err != nil {
		return nil, err
	}
	tx.Nonce = nonce

	signed, err := types.SignTx(types.NewTx(tx), types.LatestSignerForChainID(big.NewInt(int64(chainID))), w.key)
	if err != nil {
		w.nonces.MarkTransactionFailed(chainID, nonce)
		return nil, fmt.Errorf("failed to sign transaction: %v", err)
	}

	if err := client.Backend.SendTransaction(ctx, signed); err != nil {
		w.nonces.MarkTransactionFailed(chainID, nonce)
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed, nil
}

func isNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

// WaitForReceipt blocks until the transaction is mined or ctx is done
func (w *KeyedWallet) WaitForReceipt(ctx context.Context, chainID int, hash common.Hash) (*types.Receipt, error) {
	client, err := w.client(chainID)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(w.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := client.Backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			w.markMined(hash)
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			w.logger.DebugWithChain(chainID, "Receipt lookup for %s failed: %v", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *KeyedWallet) markMined(hash common.Hash) {
	w.mu.Lock()
	tx, ok := w.sent[hash]
	delete(w.sent, hash)
	w.mu.Unlock()
	if ok {
		w.nonces.MarkTransactionConfirmed(tx.chainID, tx.nonce)
	}
}

func (w *KeyedWallet) client(chainID int) (*ChainClient, error) {
	client, ok := w.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return client, nil
}
