/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. CORS:       Cross-origin requests for the front desk UI

SECURITY NOTE:
  No authentication middleware. The core trusts the X-Actor header for
  audit attribution; an auth layer in front of it is a deployment
  concern.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Appointment routes
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.CreateAppointment)
			r.Get("/{id}", h.GetAppointment)
			r.Delete("/{id}", h.DeleteAppointment)
			r.Post("/{id}/status", h.UpdateAppointmentStatus)
			r.Post("/{id}/arrive", h.MarkArrived)
			r.Get("/{id}/order", h.GetAppointmentOrder)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/audit", h.GetAppointmentAudit)
		})

		// Charge order routes
		r.Route("/orders", func(r chi.Router) {
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/void", h.VoidOrder)
			r.Post("/{id}/waive", h.WaiveOrder)
			r.Post("/{id}/items", h.UpsertItem)
		})

		// Charge item routes
		r.Route("/items", func(r chi.Router) {
			r.Delete("/{id}", h.DeleteItem)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.SubmitPayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/confirm", h.ConfirmPayment)
			r.Post("/{id}/reject", h.RejectPayment)
		})

		// Waiting-room routes
		r.Route("/waiting-room", func(r chi.Router) {
			r.Get("/", h.GetQueue)
			r.Post("/{id}/status", h.UpdateEntryStatus)
		})

		// Audit routes
		r.Get("/audit", h.QueryAudit)
		r.Get("/patients/{id}/audit", h.GetPatientAudit)

		// Health check
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	return r
}
