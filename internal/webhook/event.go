package webhook

import (
	"encoding/json"
	"fmt"

	stripelib "github.com/stripe/stripe-go/v82"
)

// Event is the closed set of webhook notifications this service reacts to.
// Every decoded event is one of the concrete types below; anything else
// parses into Unknown so unrecognized deliveries are acknowledged instead of
// redelivered forever.
type Event interface {
	// EventID returns the processor's delivery-independent event identity.
	EventID() string
	eventType() string
}

// CheckoutCompleted is a checkout.session.completed event.
type CheckoutCompleted struct {
	ID           string
	SessionID    string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

func (e CheckoutCompleted) EventID() string   { return e.ID }
func (e CheckoutCompleted) eventType() string { return "checkout.session.completed" }

// SubscriptionUpdated is a customer.subscription.updated event.
type SubscriptionUpdated struct {
	ID               string
	SubscriptionID   string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

func (e SubscriptionUpdated) EventID() string   { return e.ID }
func (e SubscriptionUpdated) eventType() string { return "customer.subscription.updated" }

// SubscriptionDeleted is a customer.subscription.deleted event.
type SubscriptionDeleted struct {
	ID             string
	SubscriptionID string `json:"id"`
	Customer       string `json:"customer"`
}

func (e SubscriptionDeleted) EventID() string   { return e.ID }
func (e SubscriptionDeleted) eventType() string { return "customer.subscription.deleted" }

// PaymentFailed is an invoice.payment_failed event.
type PaymentFailed struct {
	ID           string
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

func (e PaymentFailed) EventID() string   { return e.ID }
func (e PaymentFailed) eventType() string { return "invoice.payment_failed" }

// Unknown is any event type this service does not act on.
type Unknown struct {
	ID   string
	Type string
}

func (e Unknown) EventID() string   { return e.ID }
func (e Unknown) eventType() string { return e.Type }

// Parse decodes a verified Stripe event envelope into the closed event set.
func Parse(event *stripelib.Event) (Event, error) {
	switch event.Type {
	case "checkout.session.completed":
		var e CheckoutCompleted
		if err := json.Unmarshal(event.Data.Raw, &e); err != nil {
			return nil, fmt.Errorf("decode checkout.session: %w", err)
		}
		e.ID = event.ID
		return e, nil

	case "customer.subscription.updated":
		var e SubscriptionUpdated
		if err := json.Unmarshal(event.Data.Raw, &e); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		e.ID = event.ID
		return e, nil

	case "customer.subscription.deleted":
		var e SubscriptionDeleted
		if err := json.Unmarshal(event.Data.Raw, &e); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		e.ID = event.ID
		return e, nil

	case "invoice.payment_failed":
		var e PaymentFailed
		if err := json.Unmarshal(event.Data.Raw, &e); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		e.ID = event.ID
		return e, nil

	default:
		return Unknown{ID: event.ID, Type: string(event.Type)}, nil
	}
}
