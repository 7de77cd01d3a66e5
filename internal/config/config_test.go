package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/sampleflow/pkg/types"
)

const baseConfig = `
analyzer:
  script: scripts/analyze.py
  timeout: 90s
hasher:
  script: scripts/hash.py
classifier:
  url: http://classifier:5000/predict
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeConfig(t, `provider: redis
redis:
  addr: localhost:6379
  keyPrefix: "sampleflow:"
  jobTtl: 24h
server:
  addr: ":3000"
  corsOrigins: ["https://ui.example.com"]
sizeGate:
  minBytes: 2048
  maxBytes: 4194304
plots:
  metrics: [overall_entropy]
  s3:
    bucket: plots-bucket
    presignTtl: 5m
worker:
  enabled: true
  workers: 3
notify:
  natsUrl: nats://localhost:4222
`+baseConfig)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, types.ProviderRedis, cfg.Provider)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "sampleflow:", cfg.Redis.KeyPrefix)
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://ui.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int64(2048), cfg.SizeGate.MinBytes)
	assert.Equal(t, "90s", cfg.Analyzer.Timeout)
	assert.Equal(t, "plots-bucket", cfg.Plots.S3.Bucket)
	assert.True(t, cfg.Worker.Enabled)
	assert.Equal(t, 3, cfg.Worker.Workers)
	assert.Equal(t, "nats://localhost:4222", cfg.Notify.NATSURL)
}

func TestLoad_Defaults(t *testing.T) {
	dir := writeConfig(t, "provider: dynamodb\ndynamodb:\n  tableName: files\n"+baseConfig)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.Server.MaxUploadBytes)
	assert.Equal(t, DefaultInterpreter, cfg.Analyzer.Interpreter)
	assert.Equal(t, DefaultInterpreter, cfg.Hasher.Interpreter)
	assert.Equal(t, DefaultPlotsDir, cfg.Plots.Dir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvClassifierToken, "tok-from-env")
	t.Setenv(EnvAPIKey, "key-from-env")
	t.Setenv(EnvPostgresDSN, "postgres://u:p@db/sampleflow")
	dir := writeConfig(t, "provider: postgres\n"+baseConfig)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "tok-from-env", cfg.Classifier.Token)
	assert.Equal(t, "key-from-env", cfg.Server.APIKey)
	require.NotNil(t, cfg.Postgres)
	assert.Equal(t, "postgres://u:p@db/sampleflow", cfg.Postgres.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "invalid: [yaml")
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing provider", baseConfig, "provider is required"},
		{"unknown provider", "provider: mongo\n" + baseConfig, `unknown provider "mongo"`},
		{"missing redis config", "provider: redis\n" + baseConfig, "redis config is required"},
		{"missing redis addr", "provider: redis\nredis:\n  keyPrefix: x\n" + baseConfig, "redis.addr is required"},
		{"missing dynamodb table", "provider: dynamodb\ndynamodb:\n  region: us-east-1\n" + baseConfig, "dynamodb.tableName is required"},
		{"missing postgres dsn", "provider: postgres\n" + baseConfig, "postgres.dsn"},
		{"missing analyzer script", "provider: postgres\npostgres:\n  dsn: x\nhasher:\n  script: h.py\nclassifier:\n  url: http://c\n", "analyzer.script is required"},
		{"missing classifier url", "provider: postgres\npostgres:\n  dsn: x\nanalyzer:\n  script: a.py\nhasher:\n  script: h.py\n", "classifier.url is required"},
		{"inverted size gate", "provider: postgres\npostgres:\n  dsn: x\nsizeGate:\n  minBytes: 100\n  maxBytes: 10\n" + baseConfig, "exceeds maxBytes"},
		{"min above default max", "provider: postgres\npostgres:\n  dsn: x\nsizeGate:\n  minBytes: 20971520\n" + baseConfig, "minBytes 20971520 exceeds maxBytes 10485760"},
		{"max below default min", "provider: postgres\npostgres:\n  dsn: x\nsizeGate:\n  maxBytes: 512\n" + baseConfig, "minBytes 1024 exceeds maxBytes 512"},
		{"bad duration", "provider: postgres\npostgres:\n  dsn: x\nclassifier:\n  url: http://c\n  timeout: soon\nanalyzer:\n  script: a.py\nhasher:\n  script: h.py\n", "classifier.timeout"},
		{"s3 without bucket", "provider: postgres\npostgres:\n  dsn: x\nplots:\n  s3:\n    prefix: p/\n" + baseConfig, "plots.s3.bucket is required"},
		{"notify without url", "provider: postgres\npostgres:\n  dsn: x\nnotify:\n  subject: s\n" + baseConfig, "notify needs natsUrl, sqsQueueUrl or eventBusName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvPostgresDSN, "")
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration(t *testing.T) {
	d, err := Duration("", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = Duration("250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = Duration("-1s", time.Second)
	assert.Error(t, err)

	_, err = Duration("nope", time.Second)
	assert.Error(t, err)
}
