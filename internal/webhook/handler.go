package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ronikriger/jobflow-billing/internal/billingmetrics"
	"github.com/ronikriger/jobflow-billing/internal/entitlement"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Handler terminates the Stripe webhook endpoint: it verifies the signature
// over the raw request bytes, drops replays through the event ledger, and
// hands verified events to the Ingestor.
type Handler struct {
	secret   string
	store    *entitlement.Store
	ingestor *Ingestor
}

type errorResponse struct {
	Error string `json:"error"`
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// NewHandler creates a Stripe webhook HTTP handler.
func NewHandler(secret string, store *entitlement.Store, ingestor *Ingestor) *Handler {
	return &Handler{
		secret:   secret,
		store:    store,
		ingestor: ingestor,
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		billingmetrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		billingmetrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	ev, err := Parse(&event)
	if err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Stripe webhook payload decode failed")
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed event payload"})
		return
	}

	processed, err := h.store.EventProcessed(r.Context(), event.ID)
	if err != nil {
		status = http.StatusInternalServerError
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "processing failed"})
		return
	}
	if processed {
		log.Debug().Str("event_id", event.ID).Str("type", string(event.Type)).
			Msg("Stripe webhook already processed; acknowledging duplicate")
		status = http.StatusOK
		writeJSON(w, http.StatusOK, receivedResponse{Received: true})
		return
	}

	if err := h.ingestor.Apply(r.Context(), ev); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "processing failed"})
		return
	}

	// The ledger marks an event only after its handler succeeds, so a failed
	// delivery stays unmarked and Stripe's retry gets a clean second attempt.
	if err := h.store.MarkEventProcessed(r.Context(), event.ID, string(event.Type)); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to record webhook event in ledger")
	}

	status = http.StatusOK
	writeJSON(w, http.StatusOK, receivedResponse{Received: true})
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("webhook: encode response")
	}
}
