package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/sampleflow/internal/hasher"
	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// processSample runs the per-sample stage for one descriptor. Every failure
// becomes a status on the returned outcome.
func (p *Pipeline) processSample(ctx context.Context, artifact types.UploadedArtifact, d types.SampleDescriptor) types.SampleOutcome {
	ctx, span := p.tracer.Start(ctx, "pipeline.sample", trace.WithAttributes(
		attribute.String("sample.filename", d.Filename),
	))
	defer span.End()

	out := p.outcomeFor(ctx, d)
	p.classifySample(ctx, artifact, d, &out)
	span.SetAttributes(attribute.String("sample.status", string(out.Status)))

	log := p.logger.With("artifact", artifact.OriginalName, "sample", d.Filename, "status", out.Status)
	if out.Error != "" {
		log.Warn("sample not classified", "error", out.Error)
	} else {
		log.Info("sample processed")
	}
	return out
}

func (p *Pipeline) classifySample(ctx context.Context, artifact types.UploadedArtifact, d types.SampleDescriptor, out *types.SampleOutcome) {
	if msg := d.AnalysisError(); msg != "" {
		out.Status = types.SampleAnalysisError
		out.Error = msg
		return
	}

	if d.FilePath == "" {
		out.Status = types.SampleNotAvailable
		return
	}
	info, err := os.Stat(d.FilePath)
	if err != nil || info.IsDir() {
		out.Status = types.SampleNotAvailable
		return
	}

	start := time.Now()
	digest, err := p.hasher.Hash(ctx, d.FilePath)
	p.metrics.ObserveStage("hash", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, hasher.ErrNoDigest) {
			out.Status = types.SampleHashFailed
		} else {
			out.Status = types.SampleHashError
		}
		out.Error = err.Error()
		return
	}
	out.Digest = &digest

	start = time.Now()
	existing, err := p.store.GetFileByDigest(ctx, digest)
	p.metrics.ObserveStage("lookup", time.Since(start).Seconds())
	if err != nil {
		out.Status = types.SampleAIFailed
		out.Error = fmt.Sprintf("dedup lookup: %v", err)
		return
	}
	if existing != nil {
		p.markFound(ctx, existing, out)
		return
	}

	if !p.gate.Allows(info.Size()) {
		out.Status = types.SampleSizeUnsuitable
		return
	}

	start = time.Now()
	pred, err := p.classifier.Classify(ctx, d.FilePath)
	p.metrics.ObserveStage("classify", time.Since(start).Seconds())
	if err != nil {
		p.metrics.IncClassifierCalls("error")
		out.Status = types.SampleAIFailed
		out.Error = err.Error()
		return
	}
	p.metrics.IncClassifierCalls("ok")

	now := p.now().UTC()
	file := types.FileRecord{
		ID:         ulid.Make().String(),
		Name:       d.Filename,
		Digest:     digest,
		Status:     types.FileAnalyzed,
		UploadedAt: now,
		UserID:     artifact.Owner(),
	}
	report := types.AnalysisReport{
		ID:          ulid.Make().String(),
		FileID:      file.ID,
		CreatedAt:   now,
		Predictions: *pred,
	}

	start = time.Now()
	err = p.store.CreateFileWithReport(ctx, file, report)
	p.metrics.ObserveStage("persist", time.Since(start).Seconds())
	switch {
	case err == nil:
		out.Status = types.SampleAIAnalyzed
		out.Report = &report
		out.Classification = &report.Predictions
	case errors.Is(err, provider.ErrDigestExists):
		winner, lookupErr := p.store.GetFileByDigest(ctx, digest)
		if lookupErr != nil || winner == nil {
			out.Status = types.SampleAIFailed
			out.Error = fmt.Sprintf("resolving concurrent insert: %v", errors.Join(err, lookupErr))
			return
		}
		p.logger.Info("digest stored by a concurrent upload", "digest", digest)
		p.markFound(ctx, winner, out)
	default:
		out.Status = types.SampleAIFailed
		out.Error = fmt.Sprintf("persisting classification: %v", err)
	}
}

// markFound records a dedup hit. A missing or unreadable report still leaves
// the sample found.
func (p *Pipeline) markFound(ctx context.Context, file *types.FileRecord, out *types.SampleOutcome) {
	out.Status = types.SampleFound
	report, err := p.store.GetReportByFile(ctx, file.ID)
	if err != nil {
		p.logger.Warn("failed to load report for known digest", "digest", file.Digest, "error", err)
		return
	}
	if report == nil {
		return
	}
	out.Report = report
	out.Classification = &report.Predictions
}
