package providertest

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/sampleflow/internal/provider"
)

// TestReportCreateGet verifies a report is retrievable by its file reference.
func TestReportCreateGet(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	file := newFile(uniqueDigest())
	require.NoError(t, prov.CreateFile(ctx, file))

	report := newReport(file.ID, "malware")
	require.NoError(t, prov.CreateReport(ctx, report))

	got, err := prov.GetReportByFile(ctx, file.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, report.ID, got.ID)
	assert.Equal(t, file.ID, got.FileID)
	assert.Equal(t, "malware", got.Predictions.PrimaryLabel)
	require.NotNil(t, got.Predictions.PrimaryProbability)
	assert.InDelta(t, 0.91, *got.Predictions.PrimaryProbability, 1e-9)
	assert.Equal(t, []string{"emotet", "qakbot"}, got.Predictions.FamilyLabels)
	assert.Equal(t, []float64{0.7, 0.2}, got.Predictions.FamilyProbabilities)
}

// TestReportNotFound verifies a file without a report yields nil without error.
func TestReportNotFound(t *testing.T, prov provider.Provider) {
	got, err := prov.GetReportByFile(context.Background(), ulid.Make().String())
	require.NoError(t, err)
	assert.Nil(t, got)
}
