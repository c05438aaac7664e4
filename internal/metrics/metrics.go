package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP request metrics for API server
var (
	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, path, and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts the total number of HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// Router pipeline metrics
var (
	// RequestsTotal counts pipeline outcomes: responded, rejected, fallback
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_requests_total",
			Help: "Total number of routed requests by terminal outcome",
		},
		[]string{"outcome"},
	)

	// RejectionsTotal counts rejections by machine-readable reason
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_rejections_total",
			Help: "Total number of rejected requests by reason (rate_limited, budget_exceeded, conversation_too_long)",
		},
		[]string{"reason"},
	)

	// TierSelections counts tier routing decisions; the expected shape under
	// representative traffic is roughly 70/25/5 across low/mid/high
	TierSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_tier_selections_total",
			Help: "Total number of tier routing decisions by tier",
		},
		[]string{"tier"},
	)

	// CacheLookups counts response cache lookups by result
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_cache_lookups_total",
			Help: "Total number of response cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	// SpendAccrued tracks total monetary spend charged against budgets
	SpendAccrued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_spend_accrued",
			Help: "Total monetary spend charged to budgets, by tier, in the billing currency",
		},
		[]string{"tier"},
	)

	// BudgetAlerts counts budget alert events
	BudgetAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_budget_alerts_total",
			Help: "Total number of budget alerts by type (warning, exceeded)",
		},
		[]string{"alert_type"},
	)

	// DegradedEvents counts fail-open events caused by store unavailability
	DegradedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_degraded_events_total",
			Help: "Total number of degraded-mode (fail-open) events by component",
		},
		[]string{"component"},
	)

	// ProviderCallDuration tracks remote model call latency
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_provider_call_duration_seconds",
			Help:    "Duration of remote provider calls by tier and status",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
		[]string{"tier", "status"},
	)

	// ProviderCallsTotal counts remote provider calls by tier and status
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_provider_calls_total",
			Help: "Total number of remote provider calls by tier and status",
		},
		[]string{"tier", "status"},
	)

	// UnitsConsumed counts provider work units by tier and direction
	UnitsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_units_consumed_total",
			Help: "Total provider work units consumed by tier and direction (in, out)",
		},
		[]string{"tier", "direction"},
	)
)

// Helper functions for common metric operations

// RecordOutcome increments the pipeline outcome counter
func RecordOutcome(outcome string) {
	RequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordRejection increments the rejection counter for a reason
func RecordRejection(reason string) {
	RejectionsTotal.WithLabelValues(reason).Inc()
	RequestsTotal.WithLabelValues("rejected").Inc()
}

// RecordTierSelection increments the tier selection counter
func RecordTierSelection(tier string) {
	TierSelections.WithLabelValues(tier).Inc()
}

// RecordCacheLookup increments the cache lookup counter
func RecordCacheLookup(result string) {
	CacheLookups.WithLabelValues(result).Inc()
}

// RecordSpend adds to the spend accrued counter
func RecordSpend(tier string, amount float64) {
	SpendAccrued.WithLabelValues(tier).Add(amount)
}

// RecordBudgetAlert increments the budget alert counter
func RecordBudgetAlert(alertType string) {
	BudgetAlerts.WithLabelValues(alertType).Inc()
}

// RecordDegradedEvent increments the degraded-mode counter for a component
func RecordDegradedEvent(component string) {
	DegradedEvents.WithLabelValues(component).Inc()
}

// RecordProviderCall records a provider call with its duration and status.
// status should be "success", "error", or "timeout".
func RecordProviderCall(tier, status string, duration time.Duration) {
	ProviderCallDuration.WithLabelValues(tier, status).Observe(duration.Seconds())
	ProviderCallsTotal.WithLabelValues(tier, status).Inc()
}

// RecordUnits records provider work units consumed by a successful call
func RecordUnits(tier string, unitsIn, unitsOut int64) {
	UnitsConsumed.WithLabelValues(tier, "in").Add(float64(unitsIn))
	UnitsConsumed.WithLabelValues(tier, "out").Add(float64(unitsOut))
}

// RecordHTTPRequest records the duration and increments the counter for an HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}
