package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrorsTotal counts classified errors surfaced by guarded calls
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_errors_total",
			Help: "Total number of classified errors by code",
		},
		[]string{"code"},
	)

	// RetryAttemptsTotal counts attempts that ended in a retry or gave up
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_retry_attempts_total",
			Help: "Total number of retry decisions per dependency",
		},
		[]string{"dependency", "outcome"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faultline_breaker_state",
			Help: "Current circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"dependency"},
	)

	// BreakerTransitionsTotal counts state changes
	BreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"dependency", "from", "to"},
	)

	// BreakerRejectionsTotal counts calls short-circuited by an open breaker
	BreakerRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_breaker_rejections_total",
			Help: "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"dependency"},
	)

	// DBPoolUsage tracks connection pool usage per Postgres dependency
	DBPoolUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faultline_db_pool_usage_percent",
			Help: "Open connections as a percentage of the pool limit",
		},
		[]string{"dependency"},
	)

	// CallDuration tracks guarded call latency including retries
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultline_call_duration_seconds",
			Help:    "Guarded call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dependency"},
	)
)

// Retry outcomes.
const (
	OutcomeRetried   = "retried"
	OutcomeExhausted = "exhausted"
	OutcomeSucceeded = "succeeded"
)
