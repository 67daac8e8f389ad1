// Package metrics exposes Prometheus instrumentation for the billing
// core: spend outcomes, cost checks, throttle transitions, and
// lifecycle job results.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ledger and cost-governance collectors. Registered once via promauto
// on the default registry.
var (
	// SpendTotal counts credit spend attempts by result.
	SpendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_credit_spend_total",
			Help: "Total number of credit spend attempts",
		},
		[]string{"result"}, // ok / insufficient / error
	)

	// SpendAmount counts credits successfully deducted.
	SpendAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_credit_spend_amount_total",
			Help: "Total credits deducted by successful spends",
		},
	)

	// AddTotal counts credit additions by transaction type.
	AddTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_credit_add_total",
			Help: "Total number of credit additions",
		},
		[]string{"type"},
	)

	// SpendDuration observes the critical-section latency of spends.
	SpendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_credit_spend_duration_seconds",
			Help:    "Duration of locked credit spend transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CostCheckTotal counts USD affordability checks by outcome.
	CostCheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_cost_check_total",
			Help: "Total number of cost governance affordability checks",
		},
		[]string{"result"}, // allowed / denied / throttled
	)

	// CostRecordedUSD accumulates actual USD cost reported by providers.
	CostRecordedUSD = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_cost_recorded_usd_total",
			Help: "Total actual USD cost recorded",
		},
	)

	// ThrottleTransitions counts throttle state transitions.
	ThrottleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_throttle_transitions_total",
			Help: "Total throttle and unthrottle transitions",
		},
		[]string{"transition"}, // throttled / unthrottled
	)

	// CostAlertsTotal counts threshold alerts created, by type.
	CostAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_cost_alerts_total",
			Help: "Total cost threshold alerts created",
		},
		[]string{"alert_type"},
	)

	// LifecycleRunsTotal counts lifecycle job batch runs by job and result.
	LifecycleRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_lifecycle_runs_total",
			Help: "Total lifecycle job runs",
		},
		[]string{"job", "result"},
	)

	// LifecycleAccountsProcessed counts per-account lifecycle outcomes.
	LifecycleAccountsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_lifecycle_accounts_total",
			Help: "Total accounts touched by lifecycle jobs",
		},
		[]string{"job", "result"}, // processed / failed
	)
)
