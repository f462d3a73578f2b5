// Package httptransport assembles the HTTP surface: middleware ordering,
// route registration, and the unauthenticated operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dues/pkg/platform/httputil"
	"dues/pkg/platform/middleware/auth"
	"dues/pkg/platform/middleware/request"
)

// Registrar is implemented by the domain handlers; each mounts its own
// routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports dependency liveness for /healthz. Nil-valued entries
// are skipped so optional backends (redis, postgres in memory mode) do not
// fail the probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Deps struct {
	Logger   *slog.Logger
	Verifier *auth.Verifier
	Handlers []Registrar
	Checks   map[string]HealthChecker
}

// NewRouter wires the shared middleware chain and mounts every handler under
// the authenticated subtree. /healthz and /metrics stay public.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(request.ID)

	r.Get("/healthz", healthz(deps.Checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(deps.Verifier, deps.Logger))
		for _, handler := range deps.Handlers {
			handler.Register(r)
		}
	})
	return r
}

func healthz(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Health(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		httputil.WriteJSON(w, status, body)
	}
}
