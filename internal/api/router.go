// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dpordesk/dpordesk/internal/config"
	"github.com/dpordesk/dpordesk/internal/logging"
	"github.com/dpordesk/dpordesk/internal/metrics"
)

// NewRouter builds the service's HTTP handler: the admin API under
// /api/v1, plus health and Prometheus endpoints.
func NewRouter(h *Handler, cfg config.APIConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied in order.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(prometheusMetrics)
	r.Use(requestLogger)

	r.Get("/healthz", h.Health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))

		r.Route("/archive", func(r chi.Router) {
			r.Post("/run", h.RunArchiveSweep)
			r.Post("/run/{module}/{tenantID}", h.RunArchivePair)
		})

		r.Route("/history/{module}/{tenantID}", func(r chi.Router) {
			r.Get("/", h.GetHistory)
			r.Get("/years", h.GetArchivedYears)
			r.Post("/", h.AppendHistory)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", h.CacheStats)
			r.Post("/clear", h.CacheClear)
		})
	})

	return r
}

// requestLogger emits one structured access-log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// prometheusMetrics records request count and latency per route
// pattern.
func prometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, endpoint, ww.Status(), time.Since(start))
	})
}
