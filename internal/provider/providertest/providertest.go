// Package providertest provides shared conformance tests for provider.Provider
// implementations. Call RunAll from a test function to verify a provider
// satisfies the full behavioral contract.
package providertest

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// RunAll runs the complete provider conformance suite as subtests.
func RunAll(t *testing.T, prov provider.Provider) {
	t.Helper()

	t.Run("FileCreateGet", func(t *testing.T) { TestFileCreateGet(t, prov) })
	t.Run("FileNotFound", func(t *testing.T) { TestFileNotFound(t, prov) })
	t.Run("FileDuplicateDigest", func(t *testing.T) { TestFileDuplicateDigest(t, prov) })
	t.Run("ReportCreateGet", func(t *testing.T) { TestReportCreateGet(t, prov) })
	t.Run("ReportNotFound", func(t *testing.T) { TestReportNotFound(t, prov) })
	t.Run("CreateFileWithReport", func(t *testing.T) { TestCreateFileWithReport(t, prov) })
	t.Run("CreateFileWithReportConflict", func(t *testing.T) { TestCreateFileWithReportConflict(t, prov) })
	t.Run("CreateFileWithReportRace", func(t *testing.T) { TestCreateFileWithReportRace(t, prov) })
	t.Run("JobPutGet", func(t *testing.T) { TestJobPutGet(t, prov) })
	t.Run("JobNotFound", func(t *testing.T) { TestJobNotFound(t, prov) })
	t.Run("Ping", func(t *testing.T) { TestPing(t, prov) })
}

// uniqueDigest returns a digest no earlier run of the suite has stored, so
// the suite can run against persistent backends.
func uniqueDigest() string {
	return strings.ToLower(ulid.Make().String())
}

func newFile(digest string) types.FileRecord {
	return types.FileRecord{
		ID:         ulid.Make().String(),
		Name:       "sample-" + digest[:6] + ".exe",
		Digest:     digest,
		Status:     types.FileAnalyzed,
		UploadedAt: time.Now().UTC().Truncate(time.Millisecond),
		UserID:     "42",
	}
}

func newReport(fileID, label string) types.AnalysisReport {
	prob := 0.91
	return types.AnalysisReport{
		ID:        ulid.Make().String(),
		FileID:    fileID,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Predictions: types.Predictions{
			PrimaryLabel:        label,
			PrimaryProbability:  &prob,
			FamilyLabels:        []string{"emotet", "qakbot"},
			FamilyProbabilities: []float64{0.7, 0.2},
		},
	}
}
