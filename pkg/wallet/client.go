package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the RPC surface a chain client needs. Both *ethclient.Client
// and the simulated backend client satisfy it.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ChainClient holds the connection and gas settings of one chain
type ChainClient struct {
	ChainID       int
	RPCURL        string
	Backend       Backend
	GasMultiplier float64

	mu              sync.RWMutex
	currentGasPrice *big.Int
}

// NewChainClient wraps an existing backend
func NewChainClient(chainID int, backend Backend, gasMultiplier float64) *ChainClient {
	if gasMultiplier <= 0 {
		gasMultiplier = 1.1
	}
	return &ChainClient{
		ChainID:       chainID,
		Backend:       backend,
		GasMultiplier: gasMultiplier,
	}
}

// DialChainClient connects to a chain RPC endpoint and checks it serves the expected chain
func DialChainClient(ctx context.Context, chainID int, rpcURL string, gasMultiplier float64) (*ChainClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %v", err)
	}

	remoteID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}
	if remoteID.Int64() != int64(chainID) {
		client.Close()
		return nil, fmt.Errorf("rpc %s serves chain %s, expected %d", rpcURL, remoteID, chainID)
	}

	c := NewChainClient(chainID, client, gasMultiplier)
	c.RPCURL = rpcURL
	return c, nil
}

// UpdateGasPrice refreshes the gas price from current network conditions
func (c *ChainClient) UpdateGasPrice(ctx context.Context) (*big.Int, error) {
	if c.Backend == nil {
		return nil, fmt.Errorf("client not connected")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.Backend.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multiplied := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(c.GasMultiplier),
	)
	finalGasPrice := new(big.Int)
	multiplied.Int(finalGasPrice)

	c.mu.Lock()
	c.currentGasPrice = finalGasPrice
	c.mu.Unlock()

	return finalGasPrice, nil
}

// GasPrice returns the last refreshed gas price, refreshing when none is cached
func (c *ChainClient) GasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	cached := c.currentGasPrice
	c.mu.RUnlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}
	return c.UpdateGasPrice(ctx)
}
