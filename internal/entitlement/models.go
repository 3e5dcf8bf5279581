package entitlement

import (
	"strings"
	"time"
)

// Tier is the feature-access level recorded for a user.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Record is the persisted entitlement state for one user. Billing identifiers
// are empty strings while unset; BillingCustomerID, once set, is never
// rewritten to a different value by any code path.
type Record struct {
	UserID                string     `json:"user_id"`
	Tier                  Tier       `json:"tier"`
	BillingCustomerID     string     `json:"billing_customer_id"`
	BillingSubscriptionID string     `json:"billing_subscription_id"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// IsPro reports whether the record grants paid-tier access.
func (r *Record) IsPro() bool {
	return r != nil && r.Tier == TierPro
}

// Status is the entitlement view served to the UI.
type Status struct {
	UserID     string `json:"user_id"`
	Tier       Tier   `json:"tier"`
	AppCount   int    `json:"app_count"`
	Limit      int    `json:"limit"`
	CanAddMore bool   `json:"can_add_more"`
	IsPro      bool   `json:"is_pro"`
}

// TierForSubscriptionStatus maps a Stripe subscription status to a tier.
// Only an active subscription grants paid access; unknown statuses fail
// closed to free.
func TierForSubscriptionStatus(status string) Tier {
	if strings.ToLower(strings.TrimSpace(status)) == "active" {
		return TierPro
	}
	return TierFree
}

// IsSafeBillingID validates that an external billing ID (cus_..., sub_...)
// is safe for use as a lookup key.
func IsSafeBillingID(id string) bool {
	if len(id) < 5 || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
