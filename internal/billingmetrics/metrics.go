package billingmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobflow",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobflow",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// CheckoutTotal counts checkout-session attempts by outcome.
	CheckoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobflow",
		Subsystem: "billing",
		Name:      "checkout_total",
		Help:      "Total checkout session attempts by outcome.",
	}, []string{"outcome"})

	// EntitlementsByTier tracks the number of entitlement records per tier.
	EntitlementsByTier = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jobflow",
		Subsystem: "billing",
		Name:      "entitlements_by_tier",
		Help:      "Number of entitlement records by tier.",
	}, []string{"tier"})

	// CacheRequestsTotal counts entitlement cache lookups by result.
	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobflow",
		Subsystem: "billing",
		Name:      "entitlement_cache_requests_total",
		Help:      "Entitlement cache lookups by result (hit/miss/fallback).",
	}, []string{"result"})

	// ExpiryDriftTotal counts pro records observed past their expiry window.
	ExpiryDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jobflow",
		Subsystem: "billing",
		Name:      "expiry_drift_total",
		Help:      "Pro entitlements observed past expiry without a downgrade event.",
	})
)
