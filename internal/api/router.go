/**
 * @description
 * This file sets up the HTTP router for the settlement-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * middleware stack: request logging, panic recovery, timeouts, CORS, and JWT role checks.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser checkout clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the web-layer settings the router needs.
type RouterOptions struct {
	Auth           AuthConfig
	AllowedOrigins []string
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

// NewRouter creates a new Chi router and registers settlement routes.
func NewRouter(h *SettlementHandlers, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	// Checkout is public; the payment reference is the buyer's proof of payment.
	r.Post("/purchase", h.PurchaseHandler)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(opts.Auth))

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(RoleScanner, RoleOrganizer, RoleAdmin))
			r.Get("/tickets/{ticketID}", h.GetTicketHandler)
			r.Post("/tickets/{ticketID}/usage", h.RecordTicketUsageHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(RoleOrganizer, RoleAdmin))
			r.Get("/wallet", h.GetWalletHandler)
			r.Post("/withdraw", h.RequestWithdrawalHandler)
			r.Get("/withdrawals", h.ListWithdrawalsHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireRoles(RoleAdmin))
			r.Post("/withdraw/pay", h.PayWithdrawalHandler)
			r.Post("/withdraw/reject", h.RejectWithdrawalHandler)
			r.Get("/reconciliation", h.ListReconciliationFlagsHandler)
			r.Post("/reconciliation/{flagID}/resolve", h.ResolveReconciliationFlagHandler)
		})
	})

	return r
}
