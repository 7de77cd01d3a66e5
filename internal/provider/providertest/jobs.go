package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// TestJobPutGet verifies put, overwrite and get of a deferred job.
func TestJobPutGet(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	digest := "d41d8cd98f00b204e9800998ecf8427e"

	job := types.Job{
		ID:           ulid.Make().String(),
		Status:       types.JobQueued,
		UserID:       types.AnonymousUserID,
		ArtifactName: "batch.zip",
		Results: []types.SampleOutcome{
			{Filename: "a.exe", Status: types.SamplePending, Plots: []string{}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, prov.PutJob(ctx, job))

	got, err := prov.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, got.Status)
	assert.Equal(t, "batch.zip", got.ArtifactName)
	require.Len(t, got.Results, 1)
	assert.Equal(t, types.SamplePending, got.Results[0].Status)

	job.Status = types.JobCompleted
	job.Results[0].Status = types.SampleAIAnalyzed
	job.Results[0].Digest = &digest
	job.UpdatedAt = now.Add(time.Second)
	require.NoError(t, prov.PutJob(ctx, job))

	got, err = prov.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, got.Status)
	require.Len(t, got.Results, 1)
	assert.Equal(t, types.SampleAIAnalyzed, got.Results[0].Status)
	require.NotNil(t, got.Results[0].Digest)
	assert.Equal(t, digest, *got.Results[0].Digest)
}

// TestJobNotFound verifies unknown job IDs return provider.ErrNotFound.
func TestJobNotFound(t *testing.T, prov provider.Provider) {
	_, err := prov.GetJob(context.Background(), "ct-missing-job")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

// TestPing verifies the backend is reachable.
func TestPing(t *testing.T, prov provider.Provider) {
	assert.NoError(t, prov.Ping(context.Background()))
}
