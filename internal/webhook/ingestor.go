package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ronikriger/jobflow-billing/internal/entitlement"
)

// Ingestor applies verified billing events to the entitlement store. Every
// handler is idempotent: it writes the full truth carried by the event rather
// than toggling state, so replays and out-of-order deliveries converge on the
// same record.
type Ingestor struct {
	store *entitlement.Store
	cache *entitlement.Cache
}

// NewIngestor returns an Ingestor over the given store. cache may be nil;
// when set, applied events invalidate the affected user's cached status.
func NewIngestor(store *entitlement.Store, cache *entitlement.Cache) *Ingestor {
	return &Ingestor{store: store, cache: cache}
}

// Apply routes one event to its handler. A nil return means the event is
// settled and must be acknowledged; correlation misses settle too, after a
// warning. Errors signal transient store trouble and ask the processor to
// redeliver.
func (i *Ingestor) Apply(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return i.applyCheckoutCompleted(ctx, e)
	case SubscriptionUpdated:
		return i.applySubscriptionUpdated(ctx, e)
	case SubscriptionDeleted:
		return i.applySubscriptionDeleted(ctx, e)
	case PaymentFailed:
		i.applyPaymentFailed(e)
		return nil
	case Unknown:
		log.Debug().Str("type", e.Type).Str("eventID", e.ID).Msg("Ignoring unhandled webhook event type")
		return nil
	default:
		return fmt.Errorf("unhandled event type %T", ev)
	}
}

func (i *Ingestor) applyCheckoutCompleted(ctx context.Context, e CheckoutCompleted) error {
	if e.Mode != "" && e.Mode != "subscription" {
		log.Debug().Str("sessionID", e.SessionID).Str("mode", e.Mode).Msg("Ignoring non-subscription checkout session")
		return nil
	}
	userID := e.Metadata["user_id"]
	if userID == "" {
		log.Warn().Str("sessionID", e.SessionID).Str("customerID", e.Customer).
			Msg("Checkout session completed without user_id metadata; nothing to update")
		return nil
	}
	if e.Customer != "" && !entitlement.IsSafeBillingID(e.Customer) {
		log.Warn().Str("userID", userID).Msg("Rejecting checkout event with malformed customer ID")
		return nil
	}
	if err := i.store.ApplyCheckoutCompleted(ctx, userID, e.Customer, e.Subscription); err != nil {
		return fmt.Errorf("apply checkout completion: %w", err)
	}
	i.invalidate(userID)
	log.Info().Str("userID", userID).Str("customerID", e.Customer).
		Str("subscriptionID", e.Subscription).Msg("Checkout completed; user upgraded to pro")
	return nil
}

func (i *Ingestor) applySubscriptionUpdated(ctx context.Context, e SubscriptionUpdated) error {
	rec, err := i.resolveByCustomer(ctx, e.Customer, e.Metadata)
	if err != nil {
		return err
	}
	if rec == nil {
		log.Warn().Str("customerID", e.Customer).Str("subscriptionID", e.SubscriptionID).
			Msg("Subscription update for unknown billing customer; acknowledging without change")
		return nil
	}

	tier := entitlement.TierForSubscriptionStatus(e.Status)
	var expiresAt *time.Time
	if e.CurrentPeriodEnd > 0 {
		t := time.Unix(e.CurrentPeriodEnd, 0).UTC()
		expiresAt = &t
	}
	if err := i.store.ApplySubscriptionState(ctx, rec.UserID, tier, e.SubscriptionID, expiresAt); err != nil {
		return fmt.Errorf("apply subscription state: %w", err)
	}
	i.invalidate(rec.UserID)
	log.Info().Str("userID", rec.UserID).Str("status", e.Status).Str("tier", string(tier)).
		Msg("Subscription state applied")
	return nil
}

func (i *Ingestor) applySubscriptionDeleted(ctx context.Context, e SubscriptionDeleted) error {
	rec, err := i.resolveByCustomer(ctx, e.Customer, nil)
	if err != nil {
		return err
	}
	if rec == nil {
		log.Warn().Str("customerID", e.Customer).Str("subscriptionID", e.SubscriptionID).
			Msg("Subscription deletion for unknown billing customer; acknowledging without change")
		return nil
	}
	if err := i.store.ClearSubscription(ctx, rec.UserID); err != nil {
		return fmt.Errorf("clear subscription: %w", err)
	}
	i.invalidate(rec.UserID)
	log.Info().Str("userID", rec.UserID).Str("subscriptionID", e.SubscriptionID).
		Msg("Subscription deleted; user downgraded to free")
	return nil
}

// applyPaymentFailed records the failure for operators. The actual downgrade
// arrives as a subscription update once the processor exhausts its retries,
// so no state changes here.
func (i *Ingestor) applyPaymentFailed(e PaymentFailed) {
	log.Warn().Str("customerID", e.Customer).Str("subscriptionID", e.Subscription).
		Msg("Invoice payment failed; awaiting subscription status change")
}

// resolveByCustomer maps a billing customer ID back to the owning record,
// falling back to user_id metadata when the customer lookup finds nothing.
func (i *Ingestor) resolveByCustomer(ctx context.Context, customerID string, metadata map[string]string) (*entitlement.Record, error) {
	if customerID != "" {
		rec, err := i.store.GetByCustomerID(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("look up billing customer: %w", err)
		}
		if rec != nil {
			return rec, nil
		}
	}
	if userID := metadata["user_id"]; userID != "" {
		rec, err := i.store.Get(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("look up user: %w", err)
		}
		return rec, nil
	}
	return nil, nil
}

func (i *Ingestor) invalidate(userID string) {
	if i.cache != nil {
		i.cache.Invalidate(userID)
	}
}
