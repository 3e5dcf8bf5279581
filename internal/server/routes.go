package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ronikriger/jobflow-billing/internal/auth"
	"github.com/ronikriger/jobflow-billing/internal/checkout"
	"github.com/ronikriger/jobflow-billing/internal/entitlement"
	"github.com/ronikriger/jobflow-billing/internal/webhook"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config        *Config
	Store         *entitlement.Store
	Cache         *entitlement.Cache
	Counter       entitlement.AppCounter
	Authenticator auth.Authenticator
	Initiator     *checkout.Initiator
	Ingestor      *webhook.Ingestor
	Version       string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Store))

	// Status and metrics are operator-only.
	mux.Handle("/status", adminAuth(HandleStatus(deps.Store, deps.Version)))
	mux.Handle("/metrics", adminAuth(promhttp.Handler()))
	mux.Handle("/admin/entitlements", adminAuth(HandleListEntitlements(deps.Store)))

	// Stripe webhook (signature-authenticated, rate-limited)
	webhookHandler := webhook.NewHandler(deps.Config.StripeWebhookSecret, deps.Store, deps.Ingestor)
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/api/billing/webhook", webhookLimiter.Middleware(webhookHandler))

	// Checkout (user-authenticated via the app proxy)
	checkoutHandlers := checkout.NewHandlers(
		deps.Initiator,
		deps.Authenticator,
		deps.Cache,
		deps.Config.StripePriceID,
		deps.Config.CheckoutSuccessURL,
		deps.Config.CheckoutCancelURL,
	)
	mux.HandleFunc("/api/billing/checkout", checkoutHandlers.HandleStartCheckout)

	// Entitlement status (user-authenticated via the app proxy)
	statusHandlers := NewStatusHandlers(deps.Authenticator, deps.Cache)
	mux.HandleFunc("/api/billing/status", statusHandlers.HandleGetStatus)
	mux.HandleFunc("/api/billing/status/refresh", statusHandlers.HandleRefreshStatus)

	// Creation gate for the job-tracking backend (internal-key authenticated)
	mux.Handle("/internal/billing/authorize", HandleAuthorizeCreate(deps.Store, deps.Counter, deps.Config.InternalKey))
}
