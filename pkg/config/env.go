package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/speedrun-hq/vault-depositor/pkg/logger"
)

const (
	// DefaultQuoteAPIEndpoint is the routing aggregator used for quotes and bridge status
	DefaultQuoteAPIEndpoint = "https://li.quest/v1"

	// DefaultIntegrator identifies this service to the aggregator
	DefaultIntegrator = "vault-depositor"

	// DefaultPollingInterval defines the default bridge status polling interval in seconds
	DefaultPollingInterval = 5

	// DefaultBridgePollTimeout is the hard ceiling for bridge status polling
	DefaultBridgePollTimeout = 15 * time.Minute

	// DefaultNotFoundGrace is how long NOT_FOUND is treated as "not indexed yet"
	DefaultNotFoundGrace = 30 * time.Second

	// DefaultPendingRetention bounds the pending view of the transaction history
	DefaultPendingRetention = time.Hour

	// DefaultIntentDeadline is how long a signed deposit intent stays valid
	DefaultIntentDeadline = time.Hour

	// DefaultSlippage is the quote slippage tolerance (0.5%)
	DefaultSlippage = 0.005

	// DefaultApprovalBufferBps is added on top of required approvals (0.1%)
	DefaultApprovalBufferBps = 10

	// DefaultCrossChainBufferBps is subtracted from the bridge minimum output before signing (5%)
	DefaultCrossChainBufferBps = 500

	// DefaultSameChainBufferBps is subtracted from the swap minimum output before signing
	DefaultSameChainBufferBps = 0

	// DefaultProtocolFeeBps is the router protocol fee (0.1%)
	DefaultProtocolFeeBps = 10

	// DefaultMetricsPort defines the default port for the HTTP server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15

	// DefaultGasMultiplier is applied to the suggested gas price (10% buffer)
	DefaultGasMultiplier = 1.1
)

// GetEnvQuoteAPIEndpoint returns the quote service endpoint from environment variables
func GetEnvQuoteAPIEndpoint() (string, error) {
	endpoint := os.Getenv("QUOTE_API_ENDPOINT")
	if endpoint == "" {
		return DefaultQuoteAPIEndpoint, nil
	}

	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid QUOTE_API_ENDPOINT value: %s, must be a valid URL", endpoint)
	}
	return strings.TrimRight(endpoint, "/"), nil
}

// GetEnvStateAPIEndpoint returns the persistence backend endpoint, empty when unset
func GetEnvStateAPIEndpoint() (string, error) {
	endpoint := os.Getenv("STATE_API_ENDPOINT")
	if endpoint == "" {
		return "", nil
	}

	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid STATE_API_ENDPOINT value: %s, must be a valid URL", endpoint)
	}
	return strings.TrimRight(endpoint, "/"), nil
}

// GetEnvRedisDB returns the redis database index
func GetEnvRedisDB() (int, error) {
	db := os.Getenv("REDIS_DB")
	if db == "" {
		return 0, nil
	}

	index, err := strconv.Atoi(db)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("invalid REDIS_DB value: %s, must be a non-negative integer", db)
	}
	return index, nil
}

// GetEnvPollingInterval returns the polling interval in seconds from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	pollingInterval := os.Getenv("POLLING_INTERVAL")
	if pollingInterval == "" {
		return time.Duration(DefaultPollingInterval) * time.Second, nil
	}

	interval, err := strconv.Atoi(pollingInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid POLLING_INTERVAL value: %s, must be an integer", pollingInterval)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("POLLING_INTERVAL must be greater than 0")
	}
	return time.Duration(interval) * time.Second, nil
}

// GetEnvDuration reads a positive duration string such as "15m" from the named variable
func GetEnvDuration(key string, def time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

// GetEnvSlippage returns the quote slippage as a fraction
func GetEnvSlippage() (float64, error) {
	slippage := os.Getenv("SLIPPAGE")
	if slippage == "" {
		return DefaultSlippage, nil
	}

	parsed, err := strconv.ParseFloat(slippage, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid SLIPPAGE value: %s, must be a number", slippage)
	}
	if parsed <= 0 || parsed >= 1 {
		return 0, fmt.Errorf("SLIPPAGE must be between 0 and 1")
	}
	return parsed, nil
}

// GetEnvBasisPoints reads a basis-point value in [0, 10000) from the named variable
func GetEnvBasisPoints(key string, def int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	bps, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, value)
	}
	if bps < 0 || bps >= 10000 {
		return 0, fmt.Errorf("%s must be between 0 and 9999", key)
	}
	return bps, nil
}

// GetEnvMetricsPort returns the server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return GetEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow*time.Second)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return GetEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset*time.Second)
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %v", err)
	}
	return level, nil
}

// GetEnvLogColoring returns whether log lines are colored
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	switch coloring {
	case "", "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

// GetEnvGasMultiplier returns the gas price multiplier for a chain, defaulting to 1.1
func GetEnvGasMultiplier(chainID int) float64 {
	gasMultiplierStr := os.Getenv(fmt.Sprintf("CHAIN_%d_GAS_MULTIPLIER", chainID))
	if gasMultiplierStr != "" {
		parsedMultiplier, err := strconv.ParseFloat(gasMultiplierStr, 64)
		if err == nil && parsedMultiplier > 0 {
			return parsedMultiplier
		}
	}
	return DefaultGasMultiplier
}

// GetEnvChainConfigs returns the configuration of every supported chain.
// <NAME>_RPC_URL overrides the public endpoint, <NAME>_ROUTER_ADDRESS sets the deposit router.
func GetEnvChainConfigs() []ChainConfig {
	configs := make([]ChainConfig, 0, len(defaultRPCURLs))
	for _, chainID := range supportedChainIDs() {
		name := GetChainName(chainID)

		rpc := os.Getenv(name + "_RPC_URL")
		if rpc == "" {
			rpc = defaultRPCURLs[chainID]
		}

		router := os.Getenv(name + "_ROUTER_ADDRESS")
		if router == "" {
			router = defaultRouterAddresses[chainID]
		}

		configs = append(configs, ChainConfig{
			ChainID:       chainID,
			Name:          name,
			RPCURL:        rpc,
			RouterAddress: router,
			GasMultiplier: GetEnvGasMultiplier(chainID),
		})
	}
	return configs
}
