package entitlement

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ronikriger/jobflow-billing/internal/billingmetrics"
)

const (
	auditCheckInterval = 1 * time.Hour
	auditExpiryMargin  = 24 * time.Hour
)

// ExpiryAuditor periodically surfaces pro records whose expiry passed
// without a downgrade event arriving. It only observes: tier transitions
// remain the webhook ingestor's alone, so a slow processor retry still
// resolves the drift without this loop racing it.
type ExpiryAuditor struct {
	store *Store
}

// NewExpiryAuditor creates an ExpiryAuditor.
func NewExpiryAuditor(store *Store) *ExpiryAuditor {
	return &ExpiryAuditor{store: store}
}

// Run starts the audit loop. It blocks until ctx is cancelled.
func (a *ExpiryAuditor) Run(ctx context.Context) {
	log.Info().Msg("Entitlement expiry auditor started")

	ticker := time.NewTicker(auditCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Entitlement expiry auditor stopped")
			return
		case <-ticker.C:
			a.audit(ctx)
		}
	}
}

func (a *ExpiryAuditor) audit(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-auditExpiryMargin)
	records, err := a.store.ListProExpiredBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Expiry auditor: failed to list expired pro entitlements")
		return
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		if rec == nil || rec.ExpiresAt == nil {
			continue
		}
		billingmetrics.ExpiryDriftTotal.Inc()
		log.Warn().
			Str("user_id", rec.UserID).
			Str("billing_customer_id", rec.BillingCustomerID).
			Str("billing_subscription_id", rec.BillingSubscriptionID).
			Time("expires_at", *rec.ExpiresAt).
			Msg("Pro entitlement past expiry with no downgrade event")
	}
}
