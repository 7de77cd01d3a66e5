// Package provider defines the dedup store interface for sampleflow.
package provider

import (
	"context"
	"errors"

	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// ErrDigestExists is returned when a file record for the digest is already
// stored. Callers treat it as a late cache hit.
var ErrDigestExists = errors.New("file record for digest already exists")

// ErrNotFound is returned by lookups that require the record to exist.
var ErrNotFound = errors.New("not found")

// Provider is the persistent dedup store shared by every upload.
type Provider interface {
	// File records, one per content digest. GetFileByDigest returns nil, nil
	// when the digest has not been seen.
	GetFileByDigest(ctx context.Context, digest string) (*types.FileRecord, error)
	CreateFile(ctx context.Context, file types.FileRecord) error

	// Analysis reports, linked to a file record. GetReportByFile returns
	// nil, nil when the file has no report.
	GetReportByFile(ctx context.Context, fileID string) (*types.AnalysisReport, error)
	CreateReport(ctx context.Context, report types.AnalysisReport) error

	// CreateFileWithReport stores both records only when no file record
	// exists for the digest; otherwise it writes nothing and returns
	// ErrDigestExists.
	CreateFileWithReport(ctx context.Context, file types.FileRecord, report types.AnalysisReport) error

	// Deferred upload jobs. GetJob returns ErrNotFound for unknown IDs.
	PutJob(ctx context.Context, job types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)

	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}
