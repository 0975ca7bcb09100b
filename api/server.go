/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. requestLogger: Structured request logging via zap
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for warehouse UIs

ROUTE GROUPS:
  /api/quants/*        Quant operations (receive, transfer, adjust)
  /api/items/*         Aggregate inventory snapshots
  /api/movements       Audit log
  /api/documents/*     Document lifecycle (create, reserve, cancel)
  /api/reservations/*  Pick and unreserve
  /health              Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public;
  deploy behind a gateway that handles auth.

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: false,
	}))

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Quant routes
		r.Route("/quants", func(r chi.Router) {
			r.Get("/", h.ListQuants)
			r.Post("/receive", h.Receive)
			r.Post("/transfer", h.Transfer)
			r.Get("/{id}", h.GetQuant)
			r.Delete("/{id}", h.DeleteQuant)
			r.Post("/{id}/adjust", h.Adjust)
		})

		// Item snapshot routes
		r.Route("/items", func(r chi.Router) {
			r.Get("/{item}/inventory", h.ItemInventory)
		})

		// Movement routes
		r.Get("/movements", h.ListMovements)

		// Document routes
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", h.CreateDocument)
			r.Get("/{id}", h.GetDocument)
			r.Post("/{id}/lines", h.AddLine)
			r.Post("/{id}/reserve", h.Reserve)
			r.Post("/{id}/cancel", h.Cancel)
			r.Get("/{id}/picking-list", h.PickingList)
		})

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/{id}/pick", h.Pick)
			r.Post("/{id}/unreserve", h.Unreserve)
		})
	})

	return r
}

// requestLogger logs one structured line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
