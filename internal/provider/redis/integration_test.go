//go:build integration

package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/sampleflow/internal/provider/providertest"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

func liveProvider(t *testing.T, jobTTL string) *RedisProvider {
	t.Helper()
	addr := os.Getenv("SAMPLEFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	prefix := fmt.Sprintf("sampleflow-it-%d:", time.Now().UnixNano())
	prov, err := New(&types.RedisConfig{Addr: addr, KeyPrefix: prefix, JobTTL: jobTTL})
	require.NoError(t, err)

	ctx := context.Background()
	if err := prov.Start(ctx); err != nil {
		t.Skipf("Redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		iter := prov.Client().Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			prov.Client().Del(ctx, iter.Val())
		}
		_ = prov.Stop(ctx)
	})
	return prov
}

func TestRedisProvider_LiveConformance(t *testing.T) {
	providertest.RunAll(t, liveProvider(t, ""))
}

func TestRedisProvider_JobsExpire(t *testing.T) {
	prov := liveProvider(t, "90s")
	ctx := context.Background()

	require.NoError(t, prov.PutJob(ctx, types.Job{ID: "job-ttl", Status: types.JobQueued}))
	ttl, err := prov.Client().TTL(ctx, prov.jobKey("job-ttl")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 90*time.Second)
}
