// Package httptransport assembles the HTTP surface: shared middleware chain,
// authenticated feature routes, and the operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	identityhandler "cirvia/internal/identity/handler"
	revealhandler "cirvia/internal/reveal/handler"
	"cirvia/pkg/platform/httputil"
	"cirvia/pkg/platform/middleware"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps carries everything the router mounts.
type Deps struct {
	Identity     *identityhandler.Handler
	Reveal       *revealhandler.Handler
	JWTValidator middleware.JWTValidator
	Logger       *slog.Logger

	// Optional health checks, keyed by dependency name.
	Health map[string]HealthChecker
}

// NewRouter wires the complete HTTP handler tree.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthHandler(deps.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(authed chi.Router) {
		authed.Use(middleware.Timeout(30 * time.Second))
		authed.Use(middleware.RequireAuth(deps.JWTValidator, deps.Logger))
		deps.Identity.Register(authed)
		deps.Reveal.Register(authed)
	})

	return r
}

func healthHandler(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		result := make(map[string]string, len(checks)+1)
		result["status"] = "ok"
		for name, check := range checks {
			if err := check.Health(r.Context()); err != nil {
				result[name] = "unhealthy"
				result["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		httputil.WriteJSON(w, status, result)
	}
}
