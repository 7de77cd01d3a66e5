// Package handlers implements HTTP request handlers for the sampleflow API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dwsmith1983/sampleflow/internal/pipeline"
	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// Uploader runs uploads through the analysis pipeline.
type Uploader interface {
	Run(ctx context.Context, artifact types.UploadedArtifact) (*types.UploadResponse, error)
	Analyze(ctx context.Context, artifact types.UploadedArtifact) (*pipeline.Analysis, error)
	PendingOutcomes(ctx context.Context, a *pipeline.Analysis) []types.SampleOutcome
}

// Submitter queues the per-sample stage of a deferred upload.
type Submitter interface {
	Submit(ctx context.Context, a *pipeline.Analysis) (types.Job, error)
}

var _ Uploader = (*pipeline.Pipeline)(nil)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	pipeline  Uploader
	submitter Submitter
	provider  provider.Provider
	uploadDir string
	logger    *slog.Logger
}

// New creates a new Handlers instance. A nil submitter disables deferred
// uploads. Uploaded files are spooled under uploadDir (the OS temp dir when
// empty).
func New(p Uploader, sub Submitter, prov provider.Provider, uploadDir string) *Handlers {
	return &Handlers{
		pipeline:  p,
		submitter: sub,
		provider:  prov,
		uploadDir: uploadDir,
		logger:    slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeText sends a plain-text body, the format upload failures use.
func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
