package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/sampleflow/internal/metrics"
	"github.com/dwsmith1983/sampleflow/internal/server"
	"github.com/dwsmith1983/sampleflow/internal/server/handlers"
	"github.com/dwsmith1983/sampleflow/internal/telemetry"
	"github.com/dwsmith1983/sampleflow/internal/worker"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sampleflow HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd, true)
			slog.SetDefault(logger)
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) error {
	// Tracing
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewProm("sampleflow", reg)

	// Provider
	prov, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}
	if err := prov.Start(ctx); err != nil {
		return fmt.Errorf("starting provider: %w", err)
	}
	abort := func(err error) error {
		_ = prov.Stop(context.Background())
		return err
	}

	// Directories
	if err := ensureDirs(cfg); err != nil {
		return abort(err)
	}

	// Pipeline
	pipe, err := newPipeline(ctx, cfg, prov, rec, logger)
	if err != nil {
		return abort(err)
	}

	// Notifications
	notifier, err := newNotifier(ctx, cfg.Notify, logger)
	if err != nil {
		return abort(err)
	}

	// Deferred worker
	var w *worker.Worker
	var submitter handlers.Submitter
	if cfg.Worker != nil && cfg.Worker.Enabled {
		w = worker.New(pipe, prov, notifier, rec, logger, *cfg.Worker)
		w.Start(ctx)
		submitter = w
	}

	// Server
	srv := server.New(server.Options{
		Addr:           cfg.Server.Addr,
		APIKey:         cfg.Server.APIKey,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		UploadDir:      cfg.Server.UploadDir,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimit:      cfg.Server.RateLimit,
		PlotsDir:       localPlotsDir(cfg),
		PlotsPrefix:    cfg.Plots.URLPrefix,
		Metrics:        rec,
		Gatherer:       reg,
		Logger:         logger,
	}, pipe, submitter, prov)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Stop(shutdownCtx)
		if w != nil {
			w.Stop(shutdownCtx)
		}
		notifier.Close()
		if stopErr := prov.Stop(shutdownCtx); stopErr != nil {
			logger.Warn("provider shutdown failed", "error", stopErr)
		}
		if err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil
	})
	return g.Wait()
}

// localPlotsDir is the directory served under the plots prefix. Plots
// published to S3 are not served locally.
func localPlotsDir(cfg *types.ProjectConfig) string {
	if cfg.Plots.S3 != nil {
		return ""
	}
	return cfg.Plots.Dir
}

func ensureDirs(cfg *types.ProjectConfig) error {
	for _, dir := range []string{cfg.Server.UploadDir, cfg.Plots.Dir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}
