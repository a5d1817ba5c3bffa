package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantauth_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// PolicyChecks counts access policy evaluations by policy and outcome (allow|deny).
	PolicyChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantauth_policy_checks_total",
			Help: "Total number of access policy evaluations",
		},
		[]string{"policy", "result"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantauth_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// TokensIssued counts verification and recovery tokens by purpose.
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantauth_tokens_issued_total",
			Help: "Total number of account tokens issued",
		},
		[]string{"purpose"},
	)

	// TokensConsumed counts token consumption attempts by purpose and result.
	TokensConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantauth_tokens_consumed_total",
			Help: "Total number of account token consumption attempts",
		},
		[]string{"purpose", "result"},
	)

	// EmailDeliveries counts background email dispatches by purpose and result (sent|failed|disabled).
	EmailDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantauth_email_deliveries_total",
			Help: "Total number of notification emails dispatched",
		},
		[]string{"purpose", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantauth_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
