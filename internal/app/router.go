package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/biodata-screener/internal/adapter/httpserver"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/observability"
	"github.com/fairyhunter13/biodata-screener/internal/config"
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
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter assembles the middleware chain and the API routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpserver.Recoverer(),
		httpserver.RequestID(),
		httpserver.TimeoutMiddleware(cfg.RequestTimeout),
		httpserver.TraceMiddleware,
		httpserver.AccessLog(),
		observability.HTTPMetricsMiddleware,
		cors.Handler(corsOptions(cfg)),
	)

	r.Route("/api", func(api chi.Router) {
		api.With(processLimiter(cfg.RateLimitPerMin)...).Post("/process/", srv.ProcessHandler())
		api.Get("/download/{batchID}/{filename}/", srv.DownloadHandler())
		api.Get("/batches/{batchID}", srv.BatchHandler())
		api.Get("/batches/{batchID}/report.xlsx", srv.ReportHandler())
		api.Get("/models", srv.ModelsHandler())
	})

	r.Get("/healthz", httpserver.HealthzHandler)
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	return httpserver.SecurityHeaders(r)
}

func corsOptions(cfg config.Config) cors.Options {
	return cors.Options{
		AllowedOrigins: ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Content-Disposition"},
		MaxAge:         300,
	}
}

// processLimiter caps batch submissions per client IP and minute; perMin <= 0
// disables it.
func processLimiter(perMin int) []func(http.Handler) http.Handler {
	if perMin <= 0 {
		return nil
	}
	return []func(http.Handler) http.Handler{
		httprate.Limit(perMin, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(httpserver.RateLimitedHandler)),
	}
}
