package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// GetJob returns the record of a deferred upload.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.provider.GetJob(r.Context(), jobID)
	if errors.Is(err, provider.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "job not found", nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetFile returns the file record stored for a digest with its report.
func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	digest := types.NormalizeDigest(chi.URLParam(r, "digest"))

	file, err := h.provider.GetFileByDigest(r.Context(), digest)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to look up digest", err)
		return
	}
	if file == nil {
		h.writeError(w, http.StatusNotFound, "digest not found", nil)
		return
	}

	report, err := h.provider.GetReportByFile(r.Context(), file.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get report", err)
		return
	}
	writeJSON(w, http.StatusOK, types.FileLookup{File: file, Report: report})
}
