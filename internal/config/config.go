// Package config handles loading and validation of sampleflow.yaml project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/sampleflow/internal/gate"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// FileName is the configuration file looked up by Load.
const FileName = "sampleflow.yaml"

// Defaults applied to settings left empty in the file.
const (
	DefaultAddr           = ":8080"
	DefaultMaxUploadBytes = 50 << 20 // 50 MiB
	DefaultInterpreter    = ".venv/bin/python3"
	DefaultPlotsDir       = "plots"
)

// Environment variables that override secrets in the file.
const (
	EnvClassifierToken = "SAMPLEFLOW_CLASSIFIER_TOKEN"
	EnvAPIKey          = "SAMPLEFLOW_API_KEY"
	EnvPostgresDSN     = "SAMPLEFLOW_POSTGRES_DSN"
)

// Load reads and parses sampleflow.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile reads, defaults, overrides from the environment and validates
// the configuration at path.
func LoadFile(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Duration parses s, returning def when s is empty.
func Duration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

func applyDefaults(cfg *types.ProjectConfig) {
	if cfg.Server == nil {
		cfg.Server = &types.ServerConfig{}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Analyzer.Interpreter == "" {
		cfg.Analyzer.Interpreter = DefaultInterpreter
	}
	if cfg.Hasher.Interpreter == "" {
		cfg.Hasher.Interpreter = DefaultInterpreter
	}
	if cfg.Plots.Dir == "" {
		cfg.Plots.Dir = DefaultPlotsDir
	}
}

func applyEnv(cfg *types.ProjectConfig) {
	if v := os.Getenv(EnvClassifierToken); v != "" {
		cfg.Classifier.Token = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		if cfg.Postgres == nil {
			cfg.Postgres = &types.PostgresConfig{}
		}
		cfg.Postgres.DSN = v
	}
}

func validate(cfg *types.ProjectConfig) error {
	var errs []error

	switch cfg.Provider {
	case "":
		errs = append(errs, errors.New("provider is required"))
	case types.ProviderRedis:
		if cfg.Redis == nil {
			errs = append(errs, errors.New("redis config is required when provider is redis"))
		} else if cfg.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required"))
		}
	case types.ProviderDynamoDB:
		if cfg.DynamoDB == nil {
			errs = append(errs, errors.New("dynamodb config is required when provider is dynamodb"))
		} else if cfg.DynamoDB.TableName == "" {
			errs = append(errs, errors.New("dynamodb.tableName is required"))
		}
	case types.ProviderPostgres:
		if cfg.Postgres == nil || cfg.Postgres.DSN == "" {
			errs = append(errs, fmt.Errorf("postgres.dsn (or %s) is required when provider is postgres", EnvPostgresDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", cfg.Provider))
	}

	if cfg.Analyzer.Script == "" {
		errs = append(errs, errors.New("analyzer.script is required"))
	}
	if cfg.Hasher.Script == "" {
		errs = append(errs, errors.New("hasher.script is required"))
	}
	if cfg.Classifier.URL == "" {
		errs = append(errs, errors.New("classifier.url is required"))
	}

	if cfg.SizeGate.MinBytes < 0 || cfg.SizeGate.MaxBytes < 0 {
		errs = append(errs, errors.New("sizeGate bounds must not be negative"))
	}
	// Compare the bounds the gate will actually use, defaults included.
	if g := gate.New(cfg.SizeGate.MinBytes, cfg.SizeGate.MaxBytes); g.MinBytes > g.MaxBytes {
		errs = append(errs, fmt.Errorf("sizeGate.minBytes %d exceeds maxBytes %d", g.MinBytes, g.MaxBytes))
	}

	if cfg.Plots.S3 != nil && cfg.Plots.S3.Bucket == "" {
		errs = append(errs, errors.New("plots.s3.bucket is required when plots.s3 is set"))
	}
	if n := cfg.Notify; n != nil && n.NATSURL == "" && n.SQSQueueURL == "" && n.EventBusName == "" {
		errs = append(errs, errors.New("notify needs natsUrl, sqsQueueUrl or eventBusName"))
	}

	for field, value := range durationFields(cfg) {
		if _, err := Duration(value, time.Second); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	return errors.Join(errs...)
}

// durationFields lists every duration-valued setting by its YAML path.
func durationFields(cfg *types.ProjectConfig) map[string]string {
	fields := map[string]string{
		"analyzer.timeout":   cfg.Analyzer.Timeout,
		"hasher.timeout":     cfg.Hasher.Timeout,
		"classifier.timeout": cfg.Classifier.Timeout,
	}
	if b := cfg.Classifier.Breaker; b != nil {
		fields["classifier.breaker.cooldown"] = b.Cooldown
		fields["classifier.breaker.failWindow"] = b.FailWindow
	}
	if cfg.Plots.S3 != nil {
		fields["plots.s3.presignTtl"] = cfg.Plots.S3.PresignTTL
	}
	if cfg.Redis != nil {
		fields["redis.jobTtl"] = cfg.Redis.JobTTL
	}
	if cfg.DynamoDB != nil {
		fields["dynamodb.jobTtl"] = cfg.DynamoDB.JobTTL
	}
	return fields
}
