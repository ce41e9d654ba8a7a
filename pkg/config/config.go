package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
)

// Config holds the configuration for the deposit orchestrator
type Config struct {
	QuoteAPIEndpoint  string
	QuoteAPIKey       string
	Integrator        string
	StateAPIEndpoint  string
	DatabaseURL       string
	Redis             RedisConfig
	PollingInterval   time.Duration
	BridgePollTimeout time.Duration
	NotFoundGrace     time.Duration
	PendingRetention  time.Duration
	Slippage          float64
	Buffers           BufferConfig
	IntentDeadline    time.Duration
	MetricsPort       string
	MetricsAPIKey     string
	PrivateKey        string
	Chains            map[int]ChainConfig
	CircuitBreaker    CircuitBreakerConfig
	LoggerConfig      LoggerConfig
}

// BufferConfig holds the basis-point business parameters applied to amounts
type BufferConfig struct {
	ApprovalBps    int64
	CrossChainBps  int64
	SameChainBps   int64
	ProtocolFeeBps int64
}

// RedisConfig holds the pending intent cache connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// ChainConfig holds the configuration for a specific blockchain
type ChainConfig struct {
	ChainID       int
	Name          string
	RPCURL        string
	RouterAddress string
	GasMultiplier float64
}

// Router returns the router address, or the zero address when none is configured
func (c ChainConfig) Router() common.Address {
	if c.RouterAddress == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.RouterAddress)
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	quoteEndpoint, err := GetEnvQuoteAPIEndpoint()
	if err != nil {
		return nil, err
	}

	stateEndpoint, err := GetEnvStateAPIEndpoint()
	if err != nil {
		return nil, err
	}

	redisDB, err := GetEnvRedisDB()
	if err != nil {
		return nil, err
	}

	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := GetEnvDuration("BRIDGE_POLL_TIMEOUT", DefaultBridgePollTimeout)
	if err != nil {
		return nil, err
	}

	notFoundGrace, err := GetEnvDuration("BRIDGE_NOT_FOUND_GRACE", DefaultNotFoundGrace)
	if err != nil {
		return nil, err
	}

	retention, err := GetEnvDuration("PENDING_RETENTION", DefaultPendingRetention)
	if err != nil {
		return nil, err
	}

	deadline, err := GetEnvDuration("INTENT_DEADLINE", DefaultIntentDeadline)
	if err != nil {
		return nil, err
	}

	slippage, err := GetEnvSlippage()
	if err != nil {
		return nil, err
	}

	approvalBps, err := GetEnvBasisPoints("APPROVAL_BUFFER_BPS", DefaultApprovalBufferBps)
	if err != nil {
		return nil, err
	}

	crossChainBps, err := GetEnvBasisPoints("CROSS_CHAIN_BUFFER_BPS", DefaultCrossChainBufferBps)
	if err != nil {
		return nil, err
	}

	sameChainBps, err := GetEnvBasisPoints("SAME_CHAIN_BUFFER_BPS", DefaultSameChainBufferBps)
	if err != nil {
		return nil, err
	}

	protocolFeeBps, err := GetEnvBasisPoints("PROTOCOL_FEE_BPS", DefaultProtocolFeeBps)
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	chainConfigs := make(map[int]ChainConfig)
	for _, chainConfig := range GetEnvChainConfigs() {
		chainConfigs[chainConfig.ChainID] = chainConfig
	}

	integrator := os.Getenv("QUOTE_INTEGRATOR")
	if integrator == "" {
		integrator = DefaultIntegrator
	}

	cfg := &Config{
		QuoteAPIEndpoint: quoteEndpoint,
		QuoteAPIKey:      os.Getenv("QUOTE_API_KEY"),
		Integrator:       integrator,
		StateAPIEndpoint: stateEndpoint,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		PollingInterval:   pollingInterval,
		BridgePollTimeout: pollTimeout,
		NotFoundGrace:     notFoundGrace,
		PendingRetention:  retention,
		Slippage:          slippage,
		Buffers: BufferConfig{
			ApprovalBps:    approvalBps,
			CrossChainBps:  crossChainBps,
			SameChainBps:   sameChainBps,
			ProtocolFeeBps: protocolFeeBps,
		},
		IntentDeadline: deadline,
		MetricsPort:    metricsPort,
		MetricsAPIKey:  os.Getenv("METRICS_API_KEY"),
		PrivateKey:     os.Getenv("PRIVATE_KEY"),
		Chains:         chainConfigs,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// RequireSigner checks the settings needed by commands that send transactions
func (c *Config) RequireSigner() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	return nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain configuration is required")
	}
	for chainID, chainConfig := range cfg.Chains {
		if chainConfig.RPCURL == "" {
			return fmt.Errorf("%s_RPC_URL for chain %d is required", chainConfig.Name, chainID)
		}
		if chainConfig.RouterAddress != "" && !common.IsHexAddress(chainConfig.RouterAddress) {
			return fmt.Errorf("invalid %s_ROUTER_ADDRESS value: %s", chainConfig.Name, chainConfig.RouterAddress)
		}
	}
	if cfg.PollingInterval >= cfg.BridgePollTimeout {
		return fmt.Errorf("BRIDGE_POLL_TIMEOUT must be greater than POLLING_INTERVAL")
	}
	return nil
}
