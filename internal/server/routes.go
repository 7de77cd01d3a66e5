package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/dwsmith1983/sampleflow/internal/metrics"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := s.handlers
	limits := s.uploadLimits()

	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.opts.Gatherer))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.With(limits...).Post("/uploads", h.Upload)

		// Lookups
		r.Get("/jobs/{jobID}", h.GetJob)
		r.Get("/files/{digest}", h.GetFile)
	})

	// Legacy upload route used by existing clients.
	r.With(limits...).Post("/upload", h.Upload)

	if s.opts.PlotsDir != "" {
		files := http.StripPrefix(s.opts.PlotsPrefix, http.FileServer(http.Dir(s.opts.PlotsDir)))
		r.Method(http.MethodGet, s.opts.PlotsPrefix+"*", files)
	}
}

// uploadLimits builds the body-size and rate limits shared by both upload
// routes, so one client IP draws from a single budget.
func (s *Server) uploadLimits() []func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler
	if s.opts.MaxUploadBytes > 0 {
		mws = append(mws, limitBody(s.opts.MaxUploadBytes))
	}
	if s.opts.RateLimit > 0 {
		mws = append(mws, httprate.LimitByIP(s.opts.RateLimit, time.Minute))
	}
	return mws
}
