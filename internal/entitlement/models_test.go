package entitlement

import "testing"

func TestTierForSubscriptionStatus(t *testing.T) {
	cases := map[string]Tier{
		"active":             TierPro,
		" Active ":           TierPro,
		"trialing":           TierFree,
		"past_due":           TierFree,
		"canceled":           TierFree,
		"unpaid":             TierFree,
		"incomplete":         TierFree,
		"incomplete_expired": TierFree,
		"paused":             TierFree,
		"":                   TierFree,
		"something_new":      TierFree,
	}
	for status, want := range cases {
		if got := TierForSubscriptionStatus(status); got != want {
			t.Errorf("TierForSubscriptionStatus(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestIsSafeBillingID(t *testing.T) {
	valid := []string{"cus_NffrFeUfNV2Hib", "sub_1MowQVLkdIwHu7ix", "cus_a-b_C9"}
	for _, id := range valid {
		if !IsSafeBillingID(id) {
			t.Errorf("IsSafeBillingID(%q) = false, want true", id)
		}
	}
	invalid := []string{"", "cus", "cus 123", "cus_123;DROP TABLE", "../etc/passwd"}
	for _, id := range invalid {
		if IsSafeBillingID(id) {
			t.Errorf("IsSafeBillingID(%q) = true, want false", id)
		}
	}
}
