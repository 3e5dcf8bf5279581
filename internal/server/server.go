package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/ronikriger/jobflow-billing/internal/appcount"
	"github.com/ronikriger/jobflow-billing/internal/auth"
	"github.com/ronikriger/jobflow-billing/internal/billingmetrics"
	"github.com/ronikriger/jobflow-billing/internal/checkout"
	"github.com/ronikriger/jobflow-billing/internal/entitlement"
	"github.com/ronikriger/jobflow-billing/internal/logging"
	"github.com/ronikriger/jobflow-billing/internal/webhook"
)

// Run starts the billing HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "billing",
	})

	log.Info().Str("version", version).Msg("Starting JobFlow billing service")

	if cfg.StripeAPIKey != "" {
		stripelib.Key = cfg.StripeAPIKey
	} else {
		log.Warn().Msg("STRIPE_API_KEY not set; checkout is disabled, webhooks still work")
	}

	store, err := entitlement.NewStore(cfg.EntitlementDir())
	if err != nil {
		return fmt.Errorf("open entitlement store: %w", err)
	}
	defer store.Close()

	counter := appcount.NewHTTPCounter(cfg.AppAPIURL, cfg.InternalKey)
	statusSvc := entitlement.NewStatusService(store, counter, entitlement.DefaultLimits)
	cache := entitlement.NewCache(statusSvc, entitlement.DefaultLimits, entitlement.DefaultCacheTTL, nil)
	authn := auth.NewProxyAuthenticator(cfg.InternalKey)
	initiator := checkout.NewInitiator(store)
	ingestor := webhook.NewIngestor(store, cache)

	mux := http.NewServeMux()
	deps := &Deps{
		Config:        cfg,
		Store:         store,
		Cache:         cache,
		Counter:       counter,
		Authenticator: authn,
		Initiator:     initiator,
		Ingestor:      ingestor,
		Version:       version,
	}
	RegisterRoutes(mux, deps)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           RequestLogger(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Surface pro records whose expiry passed without a downgrade event.
	auditor := entitlement.NewExpiryAuditor(store)
	go auditor.Run(ctx)

	go runTierMetrics(ctx, store)

	go func() {
		log.Info().Str("addr", addr).Msg("Billing service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Billing service stopped")
	return nil
}

// runTierMetrics keeps the entitlements-by-tier gauge fresh.
func runTierMetrics(ctx context.Context, store *entitlement.Store) {
	const interval = 60 * time.Second

	update := func() {
		counts, err := store.CountByTier(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Tier metrics update failed")
			return
		}
		for _, tier := range []entitlement.Tier{entitlement.TierFree, entitlement.TierPro} {
			billingmetrics.EntitlementsByTier.WithLabelValues(string(tier)).Set(float64(counts[tier]))
		}
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
