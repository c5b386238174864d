/**
 * @description
 * This file sets up the HTTP router for the transfer-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - encoding/json, net/http, time: Standard Go libraries.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 * - internal/app: Rate limiter.
 */

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/afribridge/transfer-service/internal/app"
)

// RouterConfig carries the security settings the router needs.
type RouterConfig struct {
	TwilioAuthToken   string
	AppBaseURL        string
	AdminAPIKey       string
	Limiter           *app.RedisRateLimiter
	WebhookRateLimit  int
	WebhookRateWindow time.Duration
}

// TransferRoutes creates and returns a new router for the transfer service.
func TransferRoutes(h *TransferHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "verif-hash", "x-admin-key"},
	}))

	// Health check endpoint
	started := time.Now()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(started).Round(time.Second).String(),
		})
	})

	// Public webhook endpoints, rate limited per client IP.
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.Limiter, "webhook", cfg.WebhookRateLimit, cfg.WebhookRateWindow))

		r.With(TwilioSignatureMiddleware(cfg.TwilioAuthToken, cfg.AppBaseURL)).
			Post("/webhook/whatsapp", h.WhatsAppWebhookHandler)
		r.Post("/webhook/flutterwave", h.FlutterwaveWebhookHandler)
		r.Post("/payment/verify", h.VerifyPaymentHandler)
	})

	// Read endpoints.
	r.Get("/status/{phone}", h.StatusHandler)
	r.Get("/bridge/balance", h.BridgeBalanceHandler)
	r.Get("/fulfill/status/{txHash}", h.FulfillmentStatusHandler)
	r.Post("/retry/{txRef}", h.RetryHandler)

	// Operator endpoints gated by the admin API key.
	r.Group(func(r chi.Router) {
		r.Use(AdminKeyMiddleware(cfg.AdminAPIKey))

		r.Post("/fulfill", h.FulfillHandler)
		r.Post("/fulfill/retry/{txHash}", h.FulfillmentRetryHandler)
		r.Post("/admin/approve-usdc", h.ApproveUSDCHandler)
	})

	return r
}
