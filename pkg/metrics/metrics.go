package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	DepositsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depositor_deposits_started_total",
		Help: "The total number of deposit executions started",
	}, []string{"chain_id", "path"})

	DepositsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depositor_deposits_finished_total",
		Help: "The total number of deposit executions that reached a terminal status",
	}, []string{"chain_id", "path", "status"})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "depositor_step_duration_seconds",
		Help:    "Time spent in each execution step",
		Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1s up to ~17m
	}, []string{"step"})

	DepositErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depositor_errors_total",
		Help: "Total number of execution errors by type",
	}, []string{"chain_id", "error_type"})

	BridgePolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depositor_bridge_polls_total",
		Help: "Number of bridge status lookups by reported status",
	}, []string{"status"})

	BridgePollTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depositor_bridge_poll_timeouts_total",
		Help: "Number of bridge transfers still unsettled at the polling ceiling",
	})

	ActivePollers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "depositor_active_pollers",
		Help: "The number of bridge status pollers currently running",
	})

	QuoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depositor_quote_requests_total",
		Help: "Quote service requests by kind and outcome",
	}, []string{"kind", "outcome"})

	ResumedDeposits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depositor_resumed_deposits_total",
		Help: "Deferred deposits resumed by the resume scanner",
	}, []string{"chain_id", "outcome"})

	GasPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "depositor_gas_price_gwei",
		Help: "Current gas price in gwei",
	}, []string{"chain_id"})
)
