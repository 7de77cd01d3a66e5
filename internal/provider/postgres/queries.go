package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

type fileRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Digest     string    `db:"digest"`
	Status     string    `db:"status"`
	UserID     string    `db:"user_id"`
	UploadedAt time.Time `db:"uploaded_at"`
}

type reportRow struct {
	ID          string    `db:"id"`
	FileID      string    `db:"file_id"`
	Predictions []byte    `db:"predictions"`
	CreatedAt   time.Time `db:"created_at"`
}

type jobRow struct {
	ID           string    `db:"id"`
	Status       string    `db:"status"`
	UserID       string    `db:"user_id"`
	ArtifactName string    `db:"artifact_name"`
	Results      []byte    `db:"results"`
	Error        string    `db:"error"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// GetFileByDigest returns the file record for digest, or nil when unseen.
func (s *Store) GetFileByDigest(ctx context.Context, digest string) (*types.FileRecord, error) {
	var row fileRow
	err := pgxscan.Get(ctx, s.pool, &row, `
		SELECT id, name, digest, status, user_id, uploaded_at
		FROM files WHERE digest = $1
	`, digest)
	if pgxscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query file %s: %w", digest, err)
	}
	return &types.FileRecord{
		ID:         row.ID,
		Name:       row.Name,
		Digest:     row.Digest,
		Status:     types.FileStatus(row.Status),
		UploadedAt: row.UploadedAt.UTC(),
		UserID:     row.UserID,
	}, nil
}

// GetReportByFile returns the report linked to fileID, or nil when none exists.
func (s *Store) GetReportByFile(ctx context.Context, fileID string) (*types.AnalysisReport, error) {
	var row reportRow
	err := pgxscan.Get(ctx, s.pool, &row, `
		SELECT id, file_id, predictions, created_at
		FROM reports WHERE file_id = $1
	`, fileID)
	if pgxscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query report for file %s: %w", fileID, err)
	}

	r := types.AnalysisReport{ID: row.ID, FileID: row.FileID, CreatedAt: row.CreatedAt.UTC()}
	if err := json.Unmarshal(row.Predictions, &r.Predictions); err != nil {
		return nil, fmt.Errorf("unmarshal predictions for file %s: %w", fileID, err)
	}
	return &r, nil
}

// GetJob returns a job record or provider.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var row jobRow
	err := pgxscan.Get(ctx, s.pool, &row, `
		SELECT id, status, user_id, artifact_name, results,
		       COALESCE(error, '') AS error, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)
	if pgxscan.NotFound(err) {
		return nil, fmt.Errorf("job %q: %w", id, provider.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query job %s: %w", id, err)
	}

	j := types.Job{
		ID:           row.ID,
		Status:       types.JobStatus(row.Status),
		UserID:       row.UserID,
		ArtifactName: row.ArtifactName,
		Error:        row.Error,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if len(row.Results) > 0 {
		if err := json.Unmarshal(row.Results, &j.Results); err != nil {
			return nil, fmt.Errorf("unmarshal job %s results: %w", id, err)
		}
	}
	return &j, nil
}
