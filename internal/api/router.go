package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Post("/resync", s.handleResync)
		r.Get("/history", s.handleHistory)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Get("/{id}", s.handleGetEntity)
		})

		r.Route("/ws/stats", func(r chi.Router) {
			r.Get("/", s.handleWSStats)
			r.Put("/", s.handleSetWSStatsCapture)
			r.Delete("/", s.handleClearWSStats)
		})
	})

	r.Get("/metrics", s.handleMetrics)
	r.Get(s.wsPath(), s.handleWebSocket)

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleMetrics serves the Prometheus registry.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeNotFound(w, "metrics are not enabled")
		return
	}
	s.metrics.ServeHTTP(w, r)
}
