package types

// SampleStatus is the per-sample outcome tag assigned by the pipeline.
type SampleStatus string

// SampleStatus values enumerate every outcome a sample can reach.
const (
	SampleAnalysisError  SampleStatus = "analysis_error"
	SampleNotAvailable   SampleStatus = "not_available"
	SampleHashError      SampleStatus = "hash_error"
	SampleHashFailed     SampleStatus = "hash_failed"
	SampleFound          SampleStatus = "found"
	SampleSizeUnsuitable SampleStatus = "size_unsuitable"
	SampleAIFailed       SampleStatus = "ai_failed"
	SampleAIAnalyzed     SampleStatus = "ai_analyzed"
	SamplePending        SampleStatus = "pending"
)

// Valid reports whether s is one of the known sample statuses.
func (s SampleStatus) Valid() bool {
	switch s {
	case SampleAnalysisError, SampleNotAvailable, SampleHashError, SampleHashFailed,
		SampleFound, SampleSizeUnsuitable, SampleAIFailed, SampleAIAnalyzed, SamplePending:
		return true
	}
	return false
}

// Terminal reports whether the pipeline is finished with a sample in this status.
func (s SampleStatus) Terminal() bool {
	return s.Valid() && s != SamplePending
}

// FileStatus is the lifecycle state of a persisted file record.
type FileStatus string

// FileStatus values.
const (
	FilePending  FileStatus = "pending"
	FileAnalyzed FileStatus = "analyzed"
)

// JobStatus represents the lifecycle state of a deferred upload job.
type JobStatus string

// JobStatus values represent the lifecycle states of a deferred job.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IsTerminal returns true if the job will not change state again.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ProviderType names a dedup store backend.
type ProviderType string

// ProviderType values enumerate the supported store backends.
const (
	ProviderDynamoDB ProviderType = "dynamodb"
	ProviderRedis    ProviderType = "redis"
	ProviderPostgres ProviderType = "postgres"
)
