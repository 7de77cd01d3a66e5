package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dwsmith1983/sampleflow/internal/worker"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// Multipart field names and the identity header set by the auth proxy.
const (
	FieldFile     = "file"
	FieldPassword = "password"
	FieldUserID   = "userId"
	HeaderUserID  = "X-User-ID"
)

const (
	msgNoFile       = "No file uploaded."
	msgTooLarge     = "File too large."
	multipartMemory = 8 << 20
)

var errNoFile = errors.New("no file uploaded")

// Upload accepts a multipart upload and runs it through the pipeline. With
// ?mode=deferred only static analysis runs before the response; the rest is
// queued and reported through the job endpoint.
//
// Work started for the upload is not cancelled when the client disconnects.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	deferred := r.URL.Query().Get("mode") == "deferred"
	if deferred && h.submitter == nil {
		writeText(w, http.StatusBadRequest, "Deferred uploads are not enabled.")
		return
	}

	artifact, err := h.receive(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeText(w, http.StatusRequestEntityTooLarge, msgTooLarge)
		case errors.Is(err, errNoFile):
			writeText(w, http.StatusBadRequest, msgNoFile)
		default:
			h.logger.Error("failed to receive upload", "error", err)
			writeText(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	log := h.logger.With("artifact", artifact.OriginalName, "size", artifact.Size, "user_id", artifact.UserID)
	log.Info("upload received", "deferred", deferred)

	ctx := context.WithoutCancel(r.Context())
	if deferred {
		h.uploadDeferred(ctx, w, artifact)
		return
	}

	resp, err := h.pipeline.Run(ctx, artifact)
	if err != nil {
		log.Error("upload failed", "error", err)
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) uploadDeferred(ctx context.Context, w http.ResponseWriter, artifact types.UploadedArtifact) {
	a, err := h.pipeline.Analyze(ctx, artifact)
	if err != nil {
		h.logger.Error("upload failed", "artifact", artifact.OriginalName, "error", err)
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}

	pending := h.pipeline.PendingOutcomes(ctx, a)
	job, err := h.submitter.Submit(ctx, a)
	if err != nil {
		a.Close()
		if errors.Is(err, worker.ErrQueueFull) {
			writeText(w, http.StatusServiceUnavailable, "Too many uploads in progress, retry later.")
			return
		}
		h.logger.Error("failed to queue upload", "artifact", artifact.OriginalName, "error", err)
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, types.UploadResponse{JobID: job.ID, Results: pending})
}

// receive spools the uploaded file to disk and reads the form fields.
func (h *Handlers) receive(r *http.Request) (types.UploadedArtifact, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return types.UploadedArtifact{}, errNoFile
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return types.UploadedArtifact{}, err
		}
		return types.UploadedArtifact{}, fmt.Errorf("%w: %w", errNoFile, err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	src, header, err := r.FormFile(FieldFile)
	if err != nil {
		return types.UploadedArtifact{}, errNoFile
	}
	defer func() { _ = src.Close() }()

	dst, err := os.CreateTemp(h.uploadDir, "upload-*")
	if err != nil {
		return types.UploadedArtifact{}, fmt.Errorf("creating upload file: %w", err)
	}
	size, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return types.UploadedArtifact{}, fmt.Errorf("storing upload: %w", err)
	}

	return types.UploadedArtifact{
		Path:         dst.Name(),
		OriginalName: header.Filename,
		Size:         size,
		Password:     r.FormValue(FieldPassword),
		UserID:       userID(r),
	}, nil
}

// userID prefers the proxy identity header, then a non-anonymous form value.
func userID(r *http.Request) string {
	if id := r.Header.Get(HeaderUserID); id != "" {
		return id
	}
	if id := r.FormValue(FieldUserID); id != "" && id != types.AnonymousUserID {
		return id
	}
	return types.AnonymousUserID
}
