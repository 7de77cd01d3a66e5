// Package testutil provides shared test utilities for sampleflow.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*MockProvider)(nil)

// MockProvider is an in-memory Provider implementation for testing.
type MockProvider struct {
	mu      sync.Mutex
	files   map[string]types.FileRecord     // key: digest
	reports map[string]types.AnalysisReport // key: file ID
	jobs    map[string]types.Job

	lookupErr   error
	reportErr   error
	writeErr    error
	afterLookup func(digest string)

	lookups atomic.Int64
	writes  atomic.Int64
}

// NewMockProvider creates a new in-memory mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		files:   make(map[string]types.FileRecord),
		reports: make(map[string]types.AnalysisReport),
		jobs:    make(map[string]types.Job),
	}
}

// SetLookupError makes GetFileByDigest fail with err.
func (m *MockProvider) SetLookupError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupErr = err
}

// SetReportError makes GetReportByFile fail with err.
func (m *MockProvider) SetReportError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportErr = err
}

// SetWriteError makes every create and job write fail with err.
func (m *MockProvider) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetAfterLookup registers fn to run after each miss in GetFileByDigest,
// letting tests interleave a competing writer between lookup and create.
func (m *MockProvider) SetAfterLookup(fn func(digest string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.afterLookup = fn
}

// Seed stores a file record and, when report is non-nil, its report.
func (m *MockProvider) Seed(file types.FileRecord, report *types.AnalysisReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[file.Digest] = file
	if report != nil {
		m.reports[report.FileID] = *report
	}
}

// FileCount returns the number of stored file records.
func (m *MockProvider) FileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// ReportCount returns the number of stored reports.
func (m *MockProvider) ReportCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

// HasDigest reports whether a file record exists for digest.
func (m *MockProvider) HasDigest(digest string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[digest]
	return ok
}

// Lookups returns how many times GetFileByDigest was called.
func (m *MockProvider) Lookups() int64 { return m.lookups.Load() }

// Writes returns how many create operations were attempted.
func (m *MockProvider) Writes() int64 { return m.writes.Load() }

func (m *MockProvider) GetFileByDigest(_ context.Context, digest string) (*types.FileRecord, error) {
	m.lookups.Add(1)
	m.mu.Lock()
	if m.lookupErr != nil {
		err := m.lookupErr
		m.mu.Unlock()
		return nil, err
	}
	f, ok := m.files[digest]
	hook := m.afterLookup
	m.mu.Unlock()

	if !ok {
		if hook != nil {
			hook(digest)
		}
		return nil, nil
	}
	return &f, nil
}

func (m *MockProvider) CreateFile(_ context.Context, file types.FileRecord) error {
	m.writes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.files[file.Digest]; ok {
		return provider.ErrDigestExists
	}
	m.files[file.Digest] = file
	return nil
}

func (m *MockProvider) GetReportByFile(_ context.Context, fileID string) (*types.AnalysisReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reportErr != nil {
		return nil, m.reportErr
	}
	r, ok := m.reports[fileID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MockProvider) CreateReport(_ context.Context, report types.AnalysisReport) error {
	m.writes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.reports[report.FileID] = report
	return nil
}

func (m *MockProvider) CreateFileWithReport(_ context.Context, file types.FileRecord, report types.AnalysisReport) error {
	m.writes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.files[file.Digest]; ok {
		return provider.ErrDigestExists
	}
	m.files[file.Digest] = file
	m.reports[report.FileID] = report
	return nil
}

func (m *MockProvider) PutJob(_ context.Context, job types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	job.Results = append([]types.SampleOutcome(nil), job.Results...)
	m.jobs[job.ID] = job
	return nil
}

func (m *MockProvider) GetJob(_ context.Context, id string) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %q: %w", id, provider.ErrNotFound)
	}
	j.Results = append([]types.SampleOutcome(nil), j.Results...)
	return &j, nil
}

func (m *MockProvider) Start(_ context.Context) error { return nil }
func (m *MockProvider) Stop(_ context.Context) error  { return nil }
func (m *MockProvider) Ping(_ context.Context) error  { return nil }
