package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/ronikriger/jobflow-billing/internal/entitlement"
)

const testSecret = "whsec_test_secret"

func newTestHandler(t *testing.T) (*Handler, *entitlement.Store) {
	t.Helper()
	store, err := entitlement.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewHandler(testSecret, store, NewIngestor(store, nil)), store
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func checkoutCompletedJSON(eventID, userID, customerID, subscriptionID string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1","mode":"subscription","customer":%q,"subscription":%q,"metadata":{"user_id":%q}}}}`,
		eventID, customerID, subscriptionID, userID)
}

func subscriptionUpdatedJSON(eventID, customerID, subscriptionID, status string, periodEnd int64) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"customer.subscription.updated","data":{"object":{"id":%q,"customer":%q,"status":%q,"current_period_end":%d,"metadata":{"user_id":"user-1"}}}}`,
		eventID, subscriptionID, customerID, status, periodEnd)
}

func deliver(t *testing.T, h *Handler, payload string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))
	return rec
}

func TestWebhookCheckoutCompletedUpgradesUser(t *testing.T) {
	handler, store := newTestHandler(t)

	rec := deliver(t, handler, checkoutCompletedJSON("evt_1", "user-1", "cus_1", "sub_1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}

	got, err := store.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Tier != entitlement.TierPro {
		t.Fatalf("record=%+v, want pro tier", got)
	}
	if got.BillingCustomerID != "cus_1" || got.BillingSubscriptionID != "sub_1" {
		t.Fatalf("billing ids=%q/%q, want cus_1/sub_1", got.BillingCustomerID, got.BillingSubscriptionID)
	}
}

func TestWebhookDuplicateDeliveryIsIdempotent(t *testing.T) {
	handler, store := newTestHandler(t)

	payload := checkoutCompletedJSON("evt_dup", "user-1", "cus_1", "sub_1")
	for i := 0; i < 3; i++ {
		rec := deliver(t, handler, payload)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status=%d, body=%q", i, rec.Code, rec.Body.String())
		}
	}

	got, err := store.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Tier != entitlement.TierPro || got.BillingCustomerID != "cus_1" {
		t.Fatalf("record=%+v, want single pro record for cus_1", got)
	}
}

func TestWebhookOutOfOrderDeliveryConverges(t *testing.T) {
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	checkout := checkoutCompletedJSON("evt_co", "user-1", "cus_1", "sub_1")
	update := subscriptionUpdatedJSON("evt_up", "cus_1", "sub_1", "active", periodEnd)

	finalRecord := func(t *testing.T, payloads ...string) *entitlement.Record {
		handler, store := newTestHandler(t)
		if _, err := store.EnsureRecord(context.Background(), "user-1"); err != nil {
			t.Fatalf("EnsureRecord: %v", err)
		}
		for _, p := range payloads {
			if rec := deliver(t, handler, p); rec.Code != http.StatusOK {
				t.Fatalf("status=%d, body=%q", rec.Code, rec.Body.String())
			}
		}
		got, err := store.Get(context.Background(), "user-1")
		if err != nil || got == nil {
			t.Fatalf("Get: record=%v err=%v", got, err)
		}
		return got
	}

	forward := finalRecord(t, checkout, update)
	reversed := finalRecord(t, update, checkout)

	if forward.Tier != reversed.Tier || forward.BillingCustomerID != reversed.BillingCustomerID ||
		forward.BillingSubscriptionID != reversed.BillingSubscriptionID {
		t.Fatalf("delivery order changed outcome: forward=%+v reversed=%+v", forward, reversed)
	}
	if forward.Tier != entitlement.TierPro {
		t.Fatalf("tier=%q, want pro", forward.Tier)
	}
	if forward.ExpiresAt == nil || reversed.ExpiresAt == nil || !forward.ExpiresAt.Equal(*reversed.ExpiresAt) {
		t.Fatalf("expiry diverged: forward=%v reversed=%v", forward.ExpiresAt, reversed.ExpiresAt)
	}
}

func TestWebhookSubscriptionDeletedDowngrades(t *testing.T) {
	handler, store := newTestHandler(t)

	if rec := deliver(t, handler, checkoutCompletedJSON("evt_1", "user-1", "cus_1", "sub_1")); rec.Code != http.StatusOK {
		t.Fatalf("checkout status=%d", rec.Code)
	}
	deleted := `{"id":"evt_2","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","customer":"cus_1"}}}`
	if rec := deliver(t, handler, deleted); rec.Code != http.StatusOK {
		t.Fatalf("deleted status=%d", rec.Code)
	}

	got, err := store.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Tier != entitlement.TierFree {
		t.Fatalf("tier=%q, want free after deletion", got.Tier)
	}
	if got.BillingSubscriptionID != "" || got.ExpiresAt != nil {
		t.Fatalf("subscription fields not cleared: %+v", got)
	}
	if got.BillingCustomerID != "cus_1" {
		t.Fatalf("customer correlation lost on downgrade: %q", got.BillingCustomerID)
	}
}

func TestWebhookInvalidSignatureRejectedWithoutSideEffects(t *testing.T) {
	handler, store := newTestHandler(t)

	payload := checkoutCompletedJSON("evt_forged", "user-1", "cus_1", "sub_1")
	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewBufferString(payload))
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusBadRequest)
	}

	got, err := store.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("forged event mutated state: %+v", got)
	}
}

func TestWebhookMissingSignatureRejected(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/billing/webhook", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestWebhookCorrelationMissAcknowledged(t *testing.T) {
	handler, store := newTestHandler(t)

	// Unknown customer and unknown user metadata: nothing to update, but the
	// event must still be acknowledged so Stripe stops redelivering it.
	payload := `{"id":"evt_orphan","object":"event","type":"customer.subscription.updated","data":{"object":{"id":"sub_x","customer":"cus_nobody","status":"active"}}}`
	rec := deliver(t, handler, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}

	records, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("correlation miss created records: %+v", records)
	}
}

func TestWebhookPaymentFailedLeavesStateUnchanged(t *testing.T) {
	handler, store := newTestHandler(t)

	if rec := deliver(t, handler, checkoutCompletedJSON("evt_1", "user-1", "cus_1", "sub_1")); rec.Code != http.StatusOK {
		t.Fatalf("checkout status=%d", rec.Code)
	}
	failed := `{"id":"evt_pf","object":"event","type":"invoice.payment_failed","data":{"object":{"customer":"cus_1","subscription":"sub_1"}}}`
	if rec := deliver(t, handler, failed); rec.Code != http.StatusOK {
		t.Fatalf("payment_failed status=%d", rec.Code)
	}

	got, err := store.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Tier != entitlement.TierPro {
		t.Fatalf("payment failure downgraded user to %q; downgrade belongs to subscription events", got.Tier)
	}
}

func TestWebhookUnknownEventTypeAcknowledged(t *testing.T) {
	handler, _ := newTestHandler(t)

	payload := `{"id":"evt_misc","object":"event","type":"customer.updated","data":{"object":{"id":"cus_1"}}}`
	rec := deliver(t, handler, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusOK)
	}
}

func TestWebhookRetriesFailedEventInsteadOfSkippingDuplicate(t *testing.T) {
	handler, store := newTestHandler(t)
	_ = store.Close()

	payload := checkoutCompletedJSON("evt_retry", "user-1", "cus_1", "sub_1")
	rec1 := deliver(t, handler, payload)
	if rec1.Code != http.StatusInternalServerError {
		t.Fatalf("first delivery status=%d, want=%d, body=%q", rec1.Code, http.StatusInternalServerError, rec1.Body.String())
	}

	// Duplicate delivery must retry processing (and fail again here), not
	// short-circuit as if the event had already been handled successfully.
	rec2 := deliver(t, handler, payload)
	if rec2.Code != http.StatusInternalServerError {
		t.Fatalf("duplicate delivery status=%d, want=%d, body=%q", rec2.Code, http.StatusInternalServerError, rec2.Body.String())
	}
}
