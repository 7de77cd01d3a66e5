package pipeline

import (
	"context"

	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// Assemble wraps outcomes into the upload response. Order is preserved.
func Assemble(outcomes []types.SampleOutcome) *types.UploadResponse {
	if outcomes == nil {
		outcomes = []types.SampleOutcome{}
	}
	return &types.UploadResponse{Results: outcomes}
}

// PendingOutcomes describes the samples of a deferred upload before their
// per-sample stage has run.
func (p *Pipeline) PendingOutcomes(ctx context.Context, a *Analysis) []types.SampleOutcome {
	outcomes := make([]types.SampleOutcome, 0, len(a.Descriptors))
	for _, d := range a.Descriptors {
		out := p.outcomeFor(ctx, d)
		out.Status = types.SamplePending
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// outcomeFor seeds an outcome with the descriptor's analysis and the URLs of
// its plots that exist.
func (p *Pipeline) outcomeFor(ctx context.Context, d types.SampleDescriptor) types.SampleOutcome {
	var urls []string
	if p.plots != nil {
		urls = p.plots.Resolve(ctx, d.Filename, d.Plots)
	}
	return newOutcome(d, urls)
}

func newOutcome(d types.SampleDescriptor, plotURLs []string) types.SampleOutcome {
	if plotURLs == nil {
		plotURLs = []string{}
	}
	return types.SampleOutcome{
		Filename: d.Filename,
		Analysis: d.Analysis,
		Plots:    plotURLs,
	}
}
