package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// WaitForJobStatus polls until the job reaches status and returns it.
func WaitForJobStatus(t *testing.T, prov *MockProvider, jobID string, status types.JobStatus, timeout time.Duration) types.Job {
	t.Helper()
	var job types.Job
	WaitFor(t, timeout, func() bool {
		j, err := prov.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = *j
		return job.Status == status
	}, "job "+jobID+" reaching "+string(status))
	return job
}

// WriteFile creates a file of size bytes under dir and returns its path.
func WriteFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// AssertRemoved fails the test when any of paths still exists.
func AssertRemoved(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		_, err := os.Stat(p)
		require.Truef(t, os.IsNotExist(err), "expected %s to be removed", p)
	}
}
