package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/speedrun-hq/vault-depositor/pkg/circuitbreaker"
	"github.com/speedrun-hq/vault-depositor/pkg/config"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/nonce"
	"github.com/speedrun-hq/vault-depositor/pkg/orchestrator"
	"github.com/speedrun-hq/vault-depositor/pkg/pending"
	"github.com/speedrun-hq/vault-depositor/pkg/poller"
	"github.com/speedrun-hq/vault-depositor/pkg/quoteclient"
	"github.com/speedrun-hq/vault-depositor/pkg/server"
	"github.com/speedrun-hq/vault-depositor/pkg/txstate"
	"github.com/speedrun-hq/vault-depositor/pkg/wallet"
)

const (
	gasPriceUpdateInterval = 30 * time.Second
	pendingKeyPrefix       = "vault-depositor"
)

// app holds the services shared by the commands
type app struct {
	cfg          *config.Config
	logger       logger.Logger
	store        txstate.Store
	pending      pending.Store
	wallet       *wallet.KeyedWallet
	breaker      *circuitbreaker.CircuitBreaker
	poller       *poller.Poller
	orchestrator *orchestrator.Orchestrator

	// checks are the store connections that answer Ping
	checks  map[string]server.Pinger
	closers []func()
}

func newLogger(cfg *config.Config) logger.Logger {
	return logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)
}

// openStores connects the transaction state store and the pending intent cache
func openStores(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: log,
		checks: make(map[string]server.Pinger),
	}

	switch {
	case cfg.StateAPIEndpoint != "":
		log.Info("Using transaction state API at %s", cfg.StateAPIEndpoint)
		a.store = txstate.NewHTTPStore(cfg.StateAPIEndpoint, log)
	case cfg.DatabaseURL != "":
		gs, err := txstate.OpenGormStore(cfg.DatabaseURL, cfg.PendingRetention)
		if err != nil {
			return nil, fmt.Errorf("failed to open transaction state database: %v", err)
		}
		log.Info("Using PostgreSQL transaction state store")
		a.store = gs
		a.checks["database"] = gs
	default:
		log.Notice("No STATE_API_ENDPOINT or DATABASE_URL set, transaction states are kept in memory")
		a.store = txstate.NewMemoryStore(cfg.PendingRetention)
	}

	if cfg.Redis.Addr == "" {
		log.Notice("No REDIS_ADDR set, pending intents are kept in memory and are lost on exit")
		a.pending = pending.NewMemoryStore()
		return a, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rs := pending.NewRedisStore(client, pendingKeyPrefix, log)
	if err := rs.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %v", cfg.Redis.Addr, err)
	}
	a.pending = rs
	a.checks["redis"] = rs
	a.closers = append(a.closers, func() { _ = client.Close() })
	return a, nil
}

// newApp wires the full deposit stack: chain clients, signer, quote service,
// bridge poller, nonce source and orchestrator
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.RequireSigner(); err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	a, err := openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	clients := make(map[int]*wallet.ChainClient)
	for chainID, chainConfig := range cfg.Chains {
		client, err := wallet.DialChainClient(ctx, chainID, chainConfig.RPCURL, chainConfig.GasMultiplier)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to chain %d: %v", chainID, err)
		}
		clients[chainID] = client
	}

	w, err := wallet.NewKeyedWallet(cfg.PrivateKey, clients, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	w.StartGasPriceUpdates(ctx, gasPriceUpdateInterval)
	a.wallet = w
	a.closers = append(a.closers, w.Close)

	a.breaker = circuitbreaker.NewCircuitBreaker(
		"quote-service",
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		log,
	)
	quotes := quoteclient.New(cfg.QuoteAPIEndpoint, cfg.QuoteAPIKey, cfg.Integrator, a.breaker, log)

	a.poller = poller.New(quotes, cfg.PollingInterval, cfg.BridgePollTimeout, cfg.NotFoundGrace, log)
	a.closers = append(a.closers, a.poller.Stop)

	a.orchestrator = orchestrator.New(orchestrator.Dependencies{
		Wallet:  w,
		Quotes:  quotes,
		Poller:  a.poller,
		Nonces:  nonce.NewSource(w, nonce.DefaultHintTTL, log),
		Store:   a.store,
		Pending: a.pending,
		Logger:  log,
	}, orchestrator.OptionsFromConfig(cfg))

	return a, nil
}

// Close releases connections in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
