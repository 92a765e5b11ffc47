package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/tcpcmd/internal/logger"
	"github.com/marmos91/tcpcmd/internal/router"
	"github.com/marmos91/tcpcmd/pkg/api/handlers"
	"github.com/marmos91/tcpcmd/pkg/metrics"
)

// NewRouter builds the HTTP routes:
//
//	GET /health              liveness
//	GET /health/ready        readiness
//	GET /api/v1/commands     registered command ranges
//	GET /api/v1/extensions   loaded extension modules
//	GET /api/v1/sessions     open connections
//	GET /metrics             Prometheus, when metrics are enabled
func NewRouter(status handlers.Status) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := handlers.NewHealthHandler(status)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
	})

	st := handlers.NewStatusHandler(status, router.Builtin)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/commands", st.Commands)
		r.Get("/extensions", st.Extensions)
		r.Get("/sessions", st.Sessions)
	})

	if reg := metrics.GetRegistry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug("API request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDurationMs, logger.Since(start),
		)
	})
}
