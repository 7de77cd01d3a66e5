// Package server implements the sampleflow HTTP API server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dwsmith1983/sampleflow/internal/metrics"
	"github.com/dwsmith1983/sampleflow/internal/plots"
	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/internal/server/handlers"
)

// Options configures the HTTP server.
type Options struct {
	Addr           string
	APIKey         string
	MaxUploadBytes int64
	UploadDir      string
	CORSOrigins    []string
	RateLimit      int // uploads per minute per client IP, 0 disables
	PlotsDir       string
	PlotsPrefix    string
	Metrics        metrics.Recorder
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
}

// Server is the sampleflow HTTP API server.
type Server struct {
	opts     Options
	handlers *handlers.Handlers
	handler  http.Handler
	logger   *slog.Logger
	srv      *http.Server
}

// New creates a new HTTP server. A nil submitter disables deferred uploads.
func New(opts Options, pipe handlers.Uploader, sub handlers.Submitter, prov provider.Provider) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if p := strings.Trim(opts.PlotsPrefix, "/"); p != "" {
		opts.PlotsPrefix = "/" + p + "/"
	} else {
		opts.PlotsPrefix = plots.DefaultURLPrefix
	}

	h := handlers.New(pipe, sub, prov, opts.UploadDir)
	h.SetLogger(opts.Logger)

	s := &Server{
		opts:     opts,
		handlers: h,
		logger:   opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(opts.CORSOrigins)))
	r.Use(requestLog(opts.Logger, opts.Metrics))
	r.Use(apiKeyAuth(opts.APIKey, opts.PlotsPrefix))

	s.registerRoutes(r)
	// Pipeline spans started under a request become children of its server span.
	s.handler = otelhttp.NewHandler(r, "sampleflow.http")
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the instrumented router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	s.logger.Info("sampleflow server listening", "addr", s.opts.Addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server. A Start that has not begun yet
// returns immediately.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", headerAPIKey, headerRequestID, handlers.HeaderUserID},
		ExposedHeaders: []string{headerRequestID},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}
}
