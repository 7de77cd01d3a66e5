package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

const insertFileSQL = `
	INSERT INTO files (id, name, digest, status, user_id, uploaded_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (digest) DO NOTHING
`

const upsertReportSQL = `
	INSERT INTO reports (id, file_id, predictions, created_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (file_id) DO UPDATE SET
		id          = EXCLUDED.id,
		predictions = EXCLUDED.predictions,
		created_at  = EXCLUDED.created_at
`

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CreateFile inserts a file record unless its digest is already stored.
func (s *Store) CreateFile(ctx context.Context, file types.FileRecord) error {
	return insertFile(ctx, s.pool, file)
}

// CreateReport stores a report, replacing any earlier report for the same file.
func (s *Store) CreateReport(ctx context.Context, report types.AnalysisReport) error {
	return upsertReport(ctx, s.pool, report)
}

// CreateFileWithReport inserts both records in one transaction. A digest
// conflict rolls back and returns provider.ErrDigestExists.
func (s *Store) CreateFileWithReport(ctx context.Context, file types.FileRecord, report types.AnalysisReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertFile(ctx, tx, file); err != nil {
		return err
	}
	if err := upsertReport(ctx, tx, report); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return provider.ErrDigestExists
		}
		return fmt.Errorf("commit file %s: %w", file.Digest, err)
	}
	return nil
}

// PutJob upserts a job record.
func (s *Store) PutJob(ctx context.Context, job types.Job) error {
	results, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("marshal job results: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, status, user_id, artifact_name, results, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			results    = EXCLUDED.results,
			error      = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`, job.ID, string(job.Status), job.UserID, job.ArtifactName, results, job.Error, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

func insertFile(ctx context.Context, db execer, file types.FileRecord) error {
	tag, err := db.Exec(ctx, insertFileSQL,
		file.ID, file.Name, file.Digest, string(file.Status), file.UserID, file.UploadedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return provider.ErrDigestExists
		}
		return fmt.Errorf("insert file %s: %w", file.Digest, err)
	}
	if tag.RowsAffected() == 0 {
		return provider.ErrDigestExists
	}
	return nil
}

func upsertReport(ctx context.Context, db execer, report types.AnalysisReport) error {
	predictions, err := json.Marshal(report.Predictions)
	if err != nil {
		return fmt.Errorf("marshal predictions: %w", err)
	}
	if _, err := db.Exec(ctx, upsertReportSQL, report.ID, report.FileID, predictions, report.CreatedAt); err != nil {
		return fmt.Errorf("upsert report for file %s: %w", report.FileID, err)
	}
	return nil
}
