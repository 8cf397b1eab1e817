// Package httptransport assembles the HTTP surface: middleware chain, health
// and metrics endpoints, and the authenticated API routes.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tariffpub/internal/platform/middleware"
	"tariffpub/pkg/platform/httputil"
)

// Registrar is implemented by each domain handler.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter wires the middleware chain and mounts the domain handlers behind
// bearer-token auth. Health and metrics stay public.
func NewRouter(validator middleware.TokenValidator, logger *slog.Logger, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(validator, logger))
		for _, h := range handlers {
			h.Register(r)
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
