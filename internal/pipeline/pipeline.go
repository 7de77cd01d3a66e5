// Package pipeline orchestrates the per-upload sample analysis flow: static
// analysis, hashing, dedup lookup, size gating, classification, persistence
// and cleanup of ephemeral files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/dwsmith1983/sampleflow/internal/analyzer"
	"github.com/dwsmith1983/sampleflow/internal/classifier"
	"github.com/dwsmith1983/sampleflow/internal/gate"
	"github.com/dwsmith1983/sampleflow/internal/hasher"
	"github.com/dwsmith1983/sampleflow/internal/metrics"
	"github.com/dwsmith1983/sampleflow/internal/plots"
	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/internal/telemetry"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// ErrFatalAnalysis is returned when the static-analysis stage fails. The
// underlying *runner.Failure is wrapped alongside it.
var ErrFatalAnalysis = errors.New("static analysis failed")

// DefaultMaxConcurrentUploads bounds how many uploads run at once.
const DefaultMaxConcurrentUploads = 4

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Analyzer   analyzer.Interface
	Hasher     hasher.Interface
	Store      provider.Provider
	Classifier classifier.Interface
	Plots      *plots.Resolver  // optional
	Metrics    metrics.Recorder // optional
}

// Pipeline runs uploads through the analysis state machine.
type Pipeline struct {
	analyzer   analyzer.Interface
	hasher     hasher.Interface
	store      provider.Provider
	classifier classifier.Interface
	gate       gate.Gate
	plots      *plots.Resolver
	metrics    metrics.Recorder
	sem        *semaphore.Weighted
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Pipeline. maxConcurrent <= 0 uses DefaultMaxConcurrentUploads.
func New(deps Deps, g gate.Gate, maxConcurrent int64) *Pipeline {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentUploads
	}
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Pipeline{
		analyzer:   deps.Analyzer,
		hasher:     deps.Hasher,
		store:      deps.Store,
		classifier: deps.Classifier,
		gate:       g,
		plots:      deps.Plots,
		metrics:    rec,
		sem:        semaphore.NewWeighted(maxConcurrent),
		tracer:     telemetry.Tracer(),
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// SetLogger overrides the default logger.
func (p *Pipeline) SetLogger(l *slog.Logger) {
	if l != nil {
		p.logger = l
	}
}

// Run processes one upload end to end and returns the per-sample outcomes in
// enumeration order. The artifact and every extracted sample are removed
// before Run returns, whatever the outcome.
func (p *Pipeline) Run(ctx context.Context, artifact types.UploadedArtifact) (*types.UploadResponse, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("artifact.name", artifact.OriginalName),
		attribute.Int64("artifact.size", artifact.Size),
	))
	defer span.End()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		NewCleanup(p.logger, p.metrics).trackAndRun(artifact.Path)
		return nil, fmt.Errorf("waiting for upload slot: %w", err)
	}
	defer p.sem.Release(1)

	a, err := p.analyze(ctx, artifact)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "static analysis failed")
		return nil, err
	}
	defer a.Close()

	outcomes := p.process(ctx, a)
	p.metrics.IncUploads("ok")
	return Assemble(outcomes), nil
}

// Analyze runs only the static-analysis stage. On success the caller owns
// the returned Analysis and must Close it; on failure the artifact has
// already been removed.
func (p *Pipeline) Analyze(ctx context.Context, artifact types.UploadedArtifact) (*Analysis, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.deferred_analyze")
	defer span.End()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		NewCleanup(p.logger, p.metrics).trackAndRun(artifact.Path)
		return nil, fmt.Errorf("waiting for upload slot: %w", err)
	}
	defer p.sem.Release(1)

	a, err := p.analyze(ctx, artifact)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "static analysis failed")
	}
	return a, err
}

// Process runs the per-sample stage for an analysis produced by Analyze. It
// does not close a.
func (p *Pipeline) Process(ctx context.Context, a *Analysis) []types.SampleOutcome {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.logger.Warn("no upload slot for deferred processing", "artifact", a.Artifact.OriginalName, "error", err)
		return failedOutcomes(a, err)
	}
	defer p.sem.Release(1)

	outcomes := p.process(ctx, a)
	p.metrics.IncUploads("ok")
	return outcomes
}

func (p *Pipeline) analyze(ctx context.Context, artifact types.UploadedArtifact) (*Analysis, error) {
	cleanup := NewCleanup(p.logger, p.metrics)
	cleanup.SetRoot(filepath.Dir(artifact.Path))
	cleanup.Track(artifact.Path)
	handedOff := false
	defer func() {
		if !handedOff {
			cleanup.Run()
		}
	}()

	ctx, span := p.tracer.Start(ctx, "pipeline.analyze")
	defer span.End()

	start := time.Now()
	descs, err := p.analyzer.Analyze(ctx, artifact)
	p.metrics.ObserveStage("analyze", time.Since(start).Seconds())
	if err != nil {
		p.metrics.IncUploads("fatal")
		p.logger.Error("static analysis failed", "artifact", artifact.OriginalName, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrFatalAnalysis, err)
	}

	for _, d := range descs {
		if d.FilePath != "" && d.FilePath != artifact.Path {
			cleanup.Track(d.FilePath)
		}
	}
	span.SetAttributes(attribute.Int("samples", len(descs)))
	p.logger.Info("static analysis complete", "artifact", artifact.OriginalName, "samples", len(descs))

	handedOff = true
	return &Analysis{Artifact: artifact, Descriptors: descs, cleanup: cleanup}, nil
}

func (p *Pipeline) process(ctx context.Context, a *Analysis) []types.SampleOutcome {
	outcomes := make([]types.SampleOutcome, 0, len(a.Descriptors))
	for _, d := range a.Descriptors {
		out := p.processSample(ctx, a.Artifact, d)
		p.metrics.IncSampleStatus(string(out.Status))
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Analysis is the output of the static-analysis stage together with the
// ephemeral files it left behind.
type Analysis struct {
	Artifact    types.UploadedArtifact
	Descriptors []types.SampleDescriptor
	cleanup     *Cleanup
}

// TrackedPaths returns the ephemeral paths removed by Close.
func (a *Analysis) TrackedPaths() []string {
	return a.cleanup.Paths()
}

// Close removes the artifact and every extracted sample. It is safe to call
// more than once.
func (a *Analysis) Close() {
	a.cleanup.Run()
}

func failedOutcomes(a *Analysis, err error) []types.SampleOutcome {
	outcomes := make([]types.SampleOutcome, 0, len(a.Descriptors))
	for _, d := range a.Descriptors {
		out := newOutcome(d, nil)
		out.Status = types.SampleAIFailed
		out.Error = err.Error()
		outcomes = append(outcomes, out)
	}
	return outcomes
}
