// Package app wires application components and startup helpers.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	httpserver "github.com/sunil55999/autoforwardx/internal/adapter/httpserver"
	"github.com/sunil55999/autoforwardx/internal/adapter/observability"
	"github.com/sunil55999/autoforwardx/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// rdb may be nil; the idempotency guard is then disabled.
func BuildRouter(cfg config.Config, srv *httpserver.Server, rdb *redis.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Unauthenticated probes.
	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	// Tenant API: identity comes verified from the auth collaborator.
	r.Group(func(ar chi.Router) {
		ar.Use(httpserver.Identity())
		ar.Use(httprate.LimitByIP(cfg.HTTPRateLimitPerMin, 1*time.Minute))
		ar.Use(httpserver.Idempotency(rdb))

		ar.Route("/v1/pairs", func(pr chi.Router) {
			pr.Post("/", srv.CreatePairHandler())
			pr.Get("/", srv.ListPairsHandler())
			pr.Post("/bulk/pause", srv.BulkPairHandler("pause"))
			pr.Post("/bulk/resume", srv.BulkPairHandler("resume"))
			pr.Post("/bulk/update", srv.BulkPairHandler("update"))
			pr.Get("/{id}", srv.GetPairHandler())
			pr.Put("/{id}", srv.UpdatePairHandler())
			pr.Delete("/{id}", srv.DeletePairHandler())
			pr.Post("/{id}/pause", srv.PairStateHandler("pause"))
			pr.Post("/{id}/resume", srv.PairStateHandler("resume"))
			pr.Post("/{id}/stop", srv.PairStateHandler("stop"))
		})

		ar.Route("/v1/sessions", func(sr chi.Router) {
			sr.Post("/", srv.BeginAuthHandler())
			sr.Get("/", srv.ListSessionsHandler())
			sr.Post("/{id}/verify", srv.VerifyAuthHandler())
			sr.Get("/{id}/dialogs", srv.SessionDialogsHandler())
			sr.Post("/{id}/disconnect", srv.DisconnectSessionHandler())
			sr.Delete("/{id}", srv.DeleteSessionHandler())
		})

		ar.Route("/v1/filters", func(fr chi.Router) {
			fr.Post("/phrases", srv.AddPhraseHandler())
			fr.Get("/phrases", srv.ListPhrasesHandler())
			fr.Delete("/phrases/{id}", srv.DeletePhraseHandler())
			fr.Post("/images", srv.AddImageHandler())
			fr.Get("/images", srv.ListImagesHandler())
			fr.Delete("/images/{id}", srv.DeleteImageHandler())
		})

		ar.Get("/v1/dashboard", srv.DashboardHandler())
		ar.Get("/v1/activity", srv.ActivityHandler())

		// Operator surface.
		ar.Group(func(adm chi.Router) {
			adm.Use(httpserver.AdminOnly())
			adm.Get("/admin/stats", srv.AdminStatsHandler())
			adm.Get("/admin/queue", srv.AdminQueueHandler())
			adm.Post("/admin/queue/pause", srv.AdminPauseQueueHandler())
			adm.Post("/admin/queue/resume", srv.AdminResumeQueueHandler())
			adm.Post("/admin/queue/clear-failed", srv.AdminClearFailedHandler())
			adm.Post("/admin/sessions/{id}/health", srv.AdminTriggerHealthHandler())
		})
	})

	return httpserver.SecurityHeaders(r)
}
