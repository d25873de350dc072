/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through zap
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/purchases/*      Purchase invoices and their returns
  /api/sales/*          Sales bills and their returns
  /api/documents/*      Read any document
  /api/inventory/*      Adjustments, imports, items, timelines
  /api/partners/*       Partners and their ledgers
  /api/accounts/*       Money accounts
  /api/payments/*       Standalone payments
  /api/admin/*          Tenant-wide repair
  /api/scenarios        Demo data
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig holds the router options that come from configuration.
type RouterConfig struct {
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderTenant, HeaderActorID, HeaderActorName},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Purchase routes
		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", h.CreatePurchase)
			r.Put("/{id}", h.EditPurchase)
			r.Delete("/{id}", h.DeletePurchase)
			r.Post("/{id}/returns", h.CreatePurchaseReturn)
		})

		// Sale routes
		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.CreateSale)
			r.Put("/{id}", h.EditSale)
			r.Delete("/{id}", h.DeleteSale)
			r.Post("/{id}/returns", h.CreateSaleReturn)
		})

		r.Get("/documents/{id}", h.GetDocument)

		// Inventory routes
		r.Route("/inventory", func(r chi.Router) {
			r.Post("/adjustments", h.AdjustStock)
			r.Post("/import", h.ImportStock)
			r.Get("/items/{id}", h.GetItem)
			r.Get("/items/{id}/timeline", h.GetItemTimeline)
			r.Post("/items/{id}/repair", h.RepairItem)
		})

		// Partner routes
		r.Route("/partners", func(r chi.Router) {
			r.Post("/", h.CreatePartner)
			r.Get("/{id}", h.GetPartner)
			r.Get("/{id}/ledger", h.GetPartnerLedger)
			r.Post("/{id}/repair", h.RepairPartner)
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.RecordPayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/settle", h.SettlePayment)
		})

		// Admin routes
		r.Post("/admin/repair", h.RepairTenant)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/", h.LoadScenario)
			r.Get("/current", h.GetCurrentScenario)
		})
	})

	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("elapsed", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("tenant", r.Header.Get(HeaderTenant)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
