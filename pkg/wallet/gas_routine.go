package wallet

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/metrics"
)

// GasPriceRoutine periodically refreshes the cached gas price of one chain
type GasPriceRoutine struct {
	client   *ChainClient
	interval time.Duration
	stopChan chan struct{}
	mu       sync.RWMutex
	running  bool
	logger   logger.Logger
}

// NewGasPriceRoutine creates a new gas price routine
func NewGasPriceRoutine(client *ChainClient, interval time.Duration, log logger.Logger) *GasPriceRoutine {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &GasPriceRoutine{
		client:   client,
		interval: interval,
		logger:   log,
	}
}

// Start begins the periodic updates
func (r *GasPriceRoutine) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.stopChan = make(chan struct{})
	r.running = true

	go r.run(ctx, r.stopChan)
}

// Stop halts the periodic updates
func (r *GasPriceRoutine) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopChan)
	r.stopChan = nil
	r.running = false
}

// IsRunning returns whether the routine is currently running
func (r *GasPriceRoutine) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *GasPriceRoutine) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.update(ctx)

	for {
		select {
		case <-ticker.C:
			r.update(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *GasPriceRoutine) update(ctx context.Context) {
	gasPrice, err := r.client.UpdateGasPrice(ctx)
	if err != nil {
		r.logger.ErrorWithChain(r.client.ChainID, "Failed to update gas price: %v", err)
		return
	}

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(gasPrice), big.NewFloat(1e9)).Float64()
	metrics.GasPrice.WithLabelValues(strconv.Itoa(r.client.ChainID)).Set(gwei)
	r.logger.DebugWithChain(r.client.ChainID, "Updated gas price: %.2f gwei (multiplier: %.2f)", gwei, r.client.GasMultiplier)
}
