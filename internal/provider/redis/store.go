package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// GetFileByDigest retrieves the file record for a digest.
func (p *RedisProvider) GetFileByDigest(ctx context.Context, digest string) (*types.FileRecord, error) {
	var file types.FileRecord
	found, err := p.getJSON(ctx, p.fileKey(digest), &file)
	if err != nil || !found {
		return nil, err
	}
	return &file, nil
}

// CreateFile stores a file record unless one exists for its digest.
func (p *RedisProvider) CreateFile(ctx context.Context, file types.FileRecord) error {
	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshaling file record: %w", err)
	}
	ok, err := p.client.SetNX(ctx, p.fileKey(file.Digest), data, 0).Result()
	if err != nil {
		return fmt.Errorf("storing file %s: %w", file.Digest, err)
	}
	if !ok {
		return provider.ErrDigestExists
	}
	return nil
}

// GetReportByFile retrieves the report linked to a file record.
func (p *RedisProvider) GetReportByFile(ctx context.Context, fileID string) (*types.AnalysisReport, error) {
	var report types.AnalysisReport
	found, err := p.getJSON(ctx, p.reportKey(fileID), &report)
	if err != nil || !found {
		return nil, err
	}
	return &report, nil
}

// CreateReport stores an analysis report.
func (p *RedisProvider) CreateReport(ctx context.Context, report types.AnalysisReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return p.client.Set(ctx, p.reportKey(report.FileID), data, 0).Err()
}

// CreateFileWithReport atomically stores both records when the digest is new.
func (p *RedisProvider) CreateFileWithReport(ctx context.Context, file types.FileRecord, report types.AnalysisReport) error {
	fileData, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshaling file record: %w", err)
	}
	reportData, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	keys := []string{p.fileKey(file.Digest), p.reportKey(report.FileID)}
	inserted, err := p.insertScript.Run(ctx, p.client, keys, string(fileData), string(reportData)).Int()
	if err != nil {
		return fmt.Errorf("storing file %s with report: %w", file.Digest, err)
	}
	if inserted != 1 {
		return provider.ErrDigestExists
	}
	return nil
}

// PutJob stores a job record, refreshing its TTL.
func (p *RedisProvider) PutJob(ctx context.Context, job types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	return p.client.Set(ctx, p.jobKey(job.ID), data, p.jobTTL).Err()
}

// GetJob retrieves a job record.
func (p *RedisProvider) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var job types.Job
	found, err := p.getJSON(ctx, p.jobKey(id), &job)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("job %q: %w", id, provider.ErrNotFound)
	}
	return &job, nil
}

func (p *RedisProvider) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}
