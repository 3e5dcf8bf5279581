package checkout

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ronikriger/jobflow-billing/internal/auth"
	"github.com/ronikriger/jobflow-billing/internal/billingmetrics"
	"github.com/ronikriger/jobflow-billing/internal/entitlement"
)

// Handlers serves the checkout HTTP surface.
type Handlers struct {
	initiator  *Initiator
	auth       auth.Authenticator
	cache      *entitlement.Cache
	priceID    string
	successURL string
	cancelURL  string
}

// NewHandlers creates checkout Handlers.
func NewHandlers(initiator *Initiator, authn auth.Authenticator, cache *entitlement.Cache, priceID, successURL, cancelURL string) *Handlers {
	return &Handlers{
		initiator:  initiator,
		auth:       authn,
		cache:      cache,
		priceID:    priceID,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

type checkoutResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleStartCheckout creates a checkout session for the signed-in user and
// returns the redirect URL.
func (h *Handlers) HandleStartCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	identity, err := h.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	if h.priceID == "" {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "checkout is not configured"})
		return
	}

	billingmetrics.CheckoutTotal.WithLabelValues("attempt").Inc()

	customerID, err := h.initiator.EnsureBillingCustomer(r.Context(), identity.UserID, identity.Email)
	if err != nil {
		billingmetrics.CheckoutTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("user_id", identity.UserID).Msg("Billing customer setup failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "unable to start checkout, please try again"})
		return
	}

	redirectURL, err := h.initiator.StartCheckout(r.Context(), customerID, h.priceID, h.successURL, h.cancelURL, identity.UserID)
	if err != nil {
		billingmetrics.CheckoutTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).
			Str("user_id", identity.UserID).
			Str("customer_id", customerID).
			Msg("Checkout session creation failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "unable to start checkout, please try again"})
		return
	}

	// The webhook landing time is unknown; drop the cached entitlement so
	// the next read observes the post-checkout state promptly.
	h.cache.Invalidate(identity.UserID)

	billingmetrics.CheckoutTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, checkoutResponse{URL: redirectURL})
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("checkout: encode response")
	}
}
