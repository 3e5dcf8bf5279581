package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripecustomer "github.com/stripe/stripe-go/v82/customer"

	"github.com/ronikriger/jobflow-billing/internal/entitlement"
)

// Error wraps a failed checkout operation. Every failure here is retryable
// from the caller's point of view; no local state is mutated on failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("checkout %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Initiator obtains billing identities and starts Stripe checkout flows.
// Stripe calls go through function fields so tests can stub the API.
type Initiator struct {
	store                 *entitlement.Store
	createCustomer        func(params *stripelib.CustomerParams) (*stripelib.Customer, error)
	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
}

// NewInitiator creates an Initiator backed by the live Stripe client.
// The caller is expected to have set stripelib.Key.
func NewInitiator(store *entitlement.Store) *Initiator {
	return &Initiator{
		store:                 store,
		createCustomer:        stripecustomer.New,
		createCheckoutSession: stripesession.New,
	}
}

// EnsureBillingCustomer returns the user's billing customer ID, creating the
// external identity on first use. Two concurrent calls may both create a
// Stripe customer, but the store's conditional write lets exactly one win;
// the loser returns the winner's ID and its own customer is logged as an
// orphan rather than reconciled.
func (i *Initiator) EnsureBillingCustomer(ctx context.Context, userID, email string) (string, error) {
	rec, err := i.store.EnsureRecord(ctx, userID)
	if err != nil {
		return "", &Error{Op: "ensure record", Err: err}
	}
	if rec.BillingCustomerID != "" {
		return rec.BillingCustomerID, nil
	}

	params := &stripelib.CustomerParams{
		Email: stripelib.String(email),
		Metadata: map[string]string{
			"user_id": userID,
		},
	}
	params.Context = ctx
	cust, err := i.createCustomer(params)
	if err != nil || cust == nil || strings.TrimSpace(cust.ID) == "" {
		return "", &Error{Op: "create customer", Err: err}
	}

	won, err := i.store.SetCustomerIDIfAbsent(ctx, userID, cust.ID)
	if err != nil {
		return "", &Error{Op: "persist customer id", Err: err}
	}
	if won {
		log.Info().
			Str("user_id", userID).
			Str("customer_id", cust.ID).
			Msg("Billing customer created")
		return cust.ID, nil
	}

	// A concurrent caller persisted first. Use its identity.
	winner, err := i.store.Get(ctx, userID)
	if err != nil {
		return "", &Error{Op: "reload record", Err: err}
	}
	if winner == nil || winner.BillingCustomerID == "" {
		return "", &Error{Op: "reload record", Err: fmt.Errorf("customer id missing after lost write for %q", userID)}
	}
	log.Warn().
		Str("user_id", userID).
		Str("customer_id", winner.BillingCustomerID).
		Str("orphan_customer_id", cust.ID).
		Msg("Lost billing customer race; orphaned Stripe customer left unreconciled")
	return winner.BillingCustomerID, nil
}

// StartCheckout creates a Stripe checkout session for the given customer and
// price and returns the redirect URL. The user ID rides in the session and
// subscription metadata so webhook events correlate back without a lookup.
func (i *Initiator) StartCheckout(ctx context.Context, customerID, priceID, successURL, cancelURL, userID string) (string, error) {
	params := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		Customer:   stripelib.String(customerID),
		SuccessURL: stripelib.String(successURL),
		CancelURL:  stripelib.String(cancelURL),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(priceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"user_id": userID,
			},
		},
		Metadata: map[string]string{
			"user_id": userID,
		},
	}
	params.Context = ctx

	session, err := i.createCheckoutSession(params)
	if err != nil || session == nil || strings.TrimSpace(session.URL) == "" {
		return "", &Error{Op: "create session", Err: err}
	}
	return session.URL, nil
}
