package providertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// TestFileCreateGet verifies a created file record is found by its digest.
func TestFileCreateGet(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	file := newFile(uniqueDigest())

	require.NoError(t, prov.CreateFile(ctx, file))

	got, err := prov.GetFileByDigest(ctx, file.Digest)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, file.ID, got.ID)
	assert.Equal(t, file.Name, got.Name)
	assert.Equal(t, file.Digest, got.Digest)
	assert.Equal(t, types.FileAnalyzed, got.Status)
	assert.Equal(t, "42", got.UserID)
	assert.True(t, file.UploadedAt.Equal(got.UploadedAt), "uploadedAt %v != %v", file.UploadedAt, got.UploadedAt)
}

// TestFileNotFound verifies an unseen digest yields nil without error.
func TestFileNotFound(t *testing.T, prov provider.Provider) {
	got, err := prov.GetFileByDigest(context.Background(), uniqueDigest())
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestFileDuplicateDigest verifies the store rejects a second record for a digest.
func TestFileDuplicateDigest(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	digest := uniqueDigest()
	first := newFile(digest)
	require.NoError(t, prov.CreateFile(ctx, first))

	err := prov.CreateFile(ctx, newFile(digest))
	assert.ErrorIs(t, err, provider.ErrDigestExists)

	got, err := prov.GetFileByDigest(ctx, digest)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
}

// TestCreateFileWithReport verifies both records are stored and linked.
func TestCreateFileWithReport(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	file := newFile(uniqueDigest())
	report := newReport(file.ID, "malware")

	require.NoError(t, prov.CreateFileWithReport(ctx, file, report))

	gotFile, err := prov.GetFileByDigest(ctx, file.Digest)
	require.NoError(t, err)
	require.NotNil(t, gotFile)
	assert.Equal(t, file.ID, gotFile.ID)

	gotReport, err := prov.GetReportByFile(ctx, file.ID)
	require.NoError(t, err)
	require.NotNil(t, gotReport)
	assert.Equal(t, report.ID, gotReport.ID)
	assert.Equal(t, "malware", gotReport.Predictions.PrimaryLabel)
}

// TestCreateFileWithReportConflict verifies a losing insert writes nothing.
func TestCreateFileWithReportConflict(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	digest := uniqueDigest()
	winner := newFile(digest)
	winnerReport := newReport(winner.ID, "malware")
	require.NoError(t, prov.CreateFileWithReport(ctx, winner, winnerReport))

	loser := newFile(digest)
	err := prov.CreateFileWithReport(ctx, loser, newReport(loser.ID, "benign"))
	assert.ErrorIs(t, err, provider.ErrDigestExists)

	got, err := prov.GetFileByDigest(ctx, digest)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, winner.ID, got.ID)

	orphan, err := prov.GetReportByFile(ctx, loser.ID)
	require.NoError(t, err)
	assert.Nil(t, orphan, "losing report must not be stored")
}

// TestCreateFileWithReportRace verifies exactly one of several concurrent
// inserts for the same digest wins.
func TestCreateFileWithReportRace(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	digest := uniqueDigest()

	const racers = 8
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
		others    atomic.Int32
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			file := newFile(digest)
			err := prov.CreateFileWithReport(ctx, file, newReport(file.ID, "malware"))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, provider.ErrDigestExists):
				conflicts.Add(1)
			default:
				others.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(racers-1), conflicts.Load())
	assert.Zero(t, others.Load())
}
