package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ronikriger/jobflow-billing/internal/auth"
	"github.com/ronikriger/jobflow-billing/internal/entitlement"
)

// StatusHandlers serves the user-facing entitlement status surface.
type StatusHandlers struct {
	auth  auth.Authenticator
	cache *entitlement.Cache
}

// NewStatusHandlers creates StatusHandlers.
func NewStatusHandlers(authn auth.Authenticator, cache *entitlement.Cache) *StatusHandlers {
	return &StatusHandlers{auth: authn, cache: cache}
}

// HandleGetStatus returns the caller's entitlement status through the
// read-through cache.
func (h *StatusHandlers) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, err := h.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	status := h.cache.Get(r.Context(), identity.UserID)
	writeJSON(w, http.StatusOK, status)
}

// HandleRefreshStatus drops the caller's cached status and returns a fresh
// read. The app calls this after returning from checkout.
func (h *StatusHandlers) HandleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, err := h.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	h.cache.Invalidate(identity.UserID)
	status := h.cache.Get(r.Context(), identity.UserID)
	writeJSON(w, http.StatusOK, status)
}

type authorizeResponse struct {
	Allowed bool `json:"allowed"`
}

// HandleAuthorizeCreate is the authoritative creation-time gate called by the
// job-tracking backend before it inserts an application. It reads the store
// directly, never the cache, and answers 503 rather than guessing when the
// store is down.
func HandleAuthorizeCreate(store *entitlement.Store, counter entitlement.AppCounter, internalKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Internal-Key"))
		if internalKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(internalKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
			return
		}

		allowed, err := entitlement.AuthorizeCreate(r.Context(), store, counter, userID, entitlement.DefaultLimits)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Creation authorization check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "entitlement check unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, authorizeResponse{Allowed: allowed})
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("server: encode response")
	}
}
