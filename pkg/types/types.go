// Package types defines the public domain types for the sampleflow analysis pipeline.
package types

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

// AnonymousUserID identifies uploads made without an authenticated session.
const AnonymousUserID = "0"

// NormalizeDigest returns the canonical form digests are stored under:
// trimmed and lowercase hex.
func NormalizeDigest(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// archiveExtensions are the name suffixes that mark an upload as an archive.
var archiveExtensions = []string{".zip", ".7z", ".rar", ".tar", ".tar.gz", ".tgz", ".gz", ".bz2", ".xz"}

// UploadedArtifact is the file originally submitted by a client. Its Path is
// ephemeral and owned by a single pipeline run.
type UploadedArtifact struct {
	Path         string `json:"-"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	Password     string `json:"-"`
	UserID       string `json:"userId"`
}

// IsArchive reports whether the artifact name carries an archive extension.
func (a UploadedArtifact) IsArchive() bool {
	name := strings.ToLower(filepath.Base(a.OriginalName))
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Owner returns the user the artifact belongs to, falling back to anonymous.
func (a UploadedArtifact) Owner() string {
	if a.UserID == "" {
		return AnonymousUserID
	}
	return a.UserID
}

// SampleDescriptor is one analyzable unit produced by static analysis: the
// artifact itself, or an entry unpacked from it.
type SampleDescriptor struct {
	Filename string          `json:"filename"`
	FilePath string          `json:"file_path,omitempty"`
	Analysis json.RawMessage `json:"analysis,omitempty"`
	Plots    []string        `json:"plots,omitempty"`
}

// AnalysisError returns the error marker carried by the analysis payload, or
// "" when the payload has none.
func (d SampleDescriptor) AnalysisError() string {
	trimmed := bytes.TrimSpace(d.Analysis)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ""
	}
	var marker struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &marker); err != nil || len(marker.Error) == 0 {
		return ""
	}
	var msg string
	if err := json.Unmarshal(marker.Error, &msg); err == nil {
		return msg
	}
	switch string(marker.Error) {
	case "null", "false", `""`:
		return ""
	}
	return string(marker.Error)
}

// AnalysisResult is the structured output of the static-analysis tool.
type AnalysisResult struct {
	Results []SampleDescriptor `json:"results"`
}

// FileRecord is persisted metadata for a uniquely seen content digest.
type FileRecord struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Digest     string     `json:"hash"`
	Status     FileStatus `json:"status"`
	UploadedAt time.Time  `json:"uploadDate"`
	UserID     string     `json:"userId"`
}

// Predictions is the classifier's verdict for one sample.
type Predictions struct {
	PrimaryLabel        string    `json:"predictions_file"`
	PrimaryProbability  *float64  `json:"probability_file,omitempty"`
	FamilyLabels        []string  `json:"predictions_family,omitempty"`
	FamilyProbabilities []float64 `json:"probability_family,omitempty"`
}

// AnalysisReport is persisted classifier output linked to exactly one FileRecord.
type AnalysisReport struct {
	ID          string      `json:"id"`
	FileID      string      `json:"fileId"`
	CreatedAt   time.Time   `json:"createdAt"`
	Predictions Predictions `json:"predictions"`
}

// SampleOutcome is the per-sample entry of an upload response.
type SampleOutcome struct {
	Filename       string          `json:"filename"`
	Analysis       json.RawMessage `json:"analysis,omitempty"`
	Plots          []string        `json:"plots"`
	Digest         *string         `json:"hash"`
	Status         SampleStatus    `json:"status"`
	Report         *AnalysisReport `json:"report,omitempty"`
	Classification *Predictions    `json:"ai_result,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// UploadResponse is the payload returned for a processed upload.
type UploadResponse struct {
	JobID   string          `json:"job_id,omitempty"`
	Results []SampleOutcome `json:"results"`
}

// Job tracks an upload whose dedup/classification stage runs after the
// response has been sent.
type Job struct {
	ID           string          `json:"id"`
	Status       JobStatus       `json:"status"`
	UserID       string          `json:"userId"`
	ArtifactName string          `json:"artifactName"`
	Results      []SampleOutcome `json:"results"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// JobEvent is published when a deferred job reaches a terminal state.
type JobEvent struct {
	JobID     string          `json:"job_id"`
	Status    JobStatus       `json:"status"`
	UserID    string          `json:"user_id"`
	Results   []SampleOutcome `json:"results,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// FileLookup is a stored file record together with its report, if any.
type FileLookup struct {
	File   *FileRecord     `json:"file"`
	Report *AnalysisReport `json:"report,omitempty"`
}
