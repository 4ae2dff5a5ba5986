package payments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	initiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_transactions_initiated_total",
		Help: "Pending transactions created, by kind and provider",
	}, []string{"kind", "provider"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_settlement_outcomes_total",
		Help: "Results of handling provider payment events",
	}, []string{"outcome"})

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_webhooks_total",
		Help: "Webhook deliveries by provider and response",
	}, []string{"provider", "result"})

	settlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "paygate_settlement_duration_seconds",
		Help:    "Time spent inside the locked settlement section",
		Buckets: prometheus.DefBuckets,
	})
)

const (
	outcomeSettled     = "settled"
	outcomeDuplicate   = "duplicate"
	outcomeContended   = "lock_contended"
	outcomeUnknownRef  = "unknown_reference"
	outcomeIntegrity   = "integrity_failure"
	outcomeRejected    = "rejected"
	outcomeFailed      = "failed"
	outcomeUnavailable = "store_unavailable"
)
