// Package commands implements the CLI subcommands for the sampleflow binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/sampleflow/internal/analyzer"
	"github.com/dwsmith1983/sampleflow/internal/classifier"
	"github.com/dwsmith1983/sampleflow/internal/config"
	"github.com/dwsmith1983/sampleflow/internal/gate"
	"github.com/dwsmith1983/sampleflow/internal/hasher"
	"github.com/dwsmith1983/sampleflow/internal/metrics"
	"github.com/dwsmith1983/sampleflow/internal/notify"
	"github.com/dwsmith1983/sampleflow/internal/pipeline"
	"github.com/dwsmith1983/sampleflow/internal/plots"
	"github.com/dwsmith1983/sampleflow/internal/provider"
	ddbprov "github.com/dwsmith1983/sampleflow/internal/provider/dynamodb"
	pgstore "github.com/dwsmith1983/sampleflow/internal/provider/postgres"
	"github.com/dwsmith1983/sampleflow/internal/provider/redis"
	"github.com/dwsmith1983/sampleflow/internal/runner"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// Persistent flags shared by every subcommand.
const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
)

// AddPersistentFlags registers the flags every subcommand reads.
func AddPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringP(flagConfig, "c", config.FileName, "path to the configuration file")
	root.PersistentFlags().String(flagLogLevel, "info", "log level: debug, info, warn or error")
}

// loadConfig reads the file named by --config.
func loadConfig(cmd *cobra.Command) (*types.ProjectConfig, error) {
	path, _ := cmd.Flags().GetString(flagConfig)
	if path == "" {
		path = config.FileName
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger: JSON for the server, text for
// interactive commands.
func newLogger(cmd *cobra.Command, json bool) *slog.Logger {
	raw, _ := cmd.Flags().GetString(flagLogLevel)
	opts := &slog.HandlerOptions{Level: parseLevel(raw)}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newProvider creates the configured storage provider.
func newProvider(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (provider.Provider, error) {
	switch cfg.Provider {
	case types.ProviderRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis config is required when provider is redis")
		}
		p, err := redis.New(cfg.Redis)
		if err != nil {
			return nil, err
		}
		p.SetLogger(logger)
		return p, nil
	case types.ProviderDynamoDB:
		if cfg.DynamoDB == nil {
			return nil, fmt.Errorf("dynamodb config is required when provider is dynamodb")
		}
		p, err := ddbprov.New(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		p.SetLogger(logger)
		return p, nil
	case types.ProviderPostgres:
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres config is required when provider is postgres")
		}
		p, err := pgstore.NewFromConfig(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// loadAWSConfig loads the default credential chain, optionally pinned to a region.
func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// classifierToken returns the inline token, or fetches it from Secrets
// Manager when only a secret ARN is configured.
func classifierToken(ctx context.Context, cfg types.ClassifierConfig, api classifier.SecretsAPI) (string, error) {
	if cfg.Token != "" || cfg.TokenSecretARN == "" {
		return cfg.Token, nil
	}
	if api == nil {
		awsCfg, err := loadAWSConfig(ctx, cfg.Region)
		if err != nil {
			return "", err
		}
		api = secretsmanager.NewFromConfig(awsCfg)
	}
	return classifier.TokenFromSecret(ctx, api, cfg.TokenSecretARN)
}

func breakerConfig(cfg *types.CircuitBreakerConfig) (classifier.BreakerConfig, error) {
	bc := classifier.DefaultBreakerConfig()
	if cfg == nil {
		return bc, nil
	}
	if cfg.FailThreshold > 0 {
		bc.FailThreshold = cfg.FailThreshold
	}
	var err error
	if bc.Cooldown, err = config.Duration(cfg.Cooldown, bc.Cooldown); err != nil {
		return bc, fmt.Errorf("classifier.breaker.cooldown: %w", err)
	}
	if bc.FailWindow, err = config.Duration(cfg.FailWindow, bc.FailWindow); err != nil {
		return bc, fmt.Errorf("classifier.breaker.failWindow: %w", err)
	}
	return bc, nil
}

// newPlotsResolver exposes plots from the local directory, or through
// presigned S3 URLs when a bucket is configured.
func newPlotsResolver(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (*plots.Resolver, error) {
	var pub plots.Publisher
	if s3cfg := cfg.Plots.S3; s3cfg != nil {
		ttl, err := config.Duration(s3cfg.PresignTTL, plots.DefaultPresignTTL)
		if err != nil {
			return nil, fmt.Errorf("plots.s3.presignTtl: %w", err)
		}
		awsCfg, err := loadAWSConfig(ctx, s3cfg.Region)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if s3cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(s3cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
		pub = plots.NewS3PublisherFromClient(client, cfg.Plots.Dir, s3cfg.Bucket, s3cfg.Prefix, ttl)
	} else {
		base := ""
		if cfg.Server != nil {
			base = cfg.Server.PublicBaseURL
		}
		pub = plots.NewLocalPublisher(base, cfg.Plots.URLPrefix)
	}

	metricNames := cfg.Plots.Metrics
	if len(metricNames) == 0 {
		metricNames = plots.DefaultMetrics
	}
	r := plots.NewResolver(cfg.Plots.Dir, metricNames, pub)
	r.SetLogger(logger)
	return r, nil
}

// newPipeline wires the analysis pipeline from configuration.
func newPipeline(ctx context.Context, cfg *types.ProjectConfig, store provider.Provider, rec metrics.Recorder, logger *slog.Logger) (*pipeline.Pipeline, error) {
	run := runner.New()
	run.SetLogger(logger)

	analyzeTimeout, err := config.Duration(cfg.Analyzer.Timeout, runner.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("analyzer.timeout: %w", err)
	}
	an, err := analyzer.New(run, cfg.Analyzer, analyzeTimeout)
	if err != nil {
		return nil, err
	}

	hashTimeout, err := config.Duration(cfg.Hasher.Timeout, runner.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("hasher.timeout: %w", err)
	}
	hs := hasher.New(run, cfg.Hasher, hashTimeout)

	token, err := classifierToken(ctx, cfg.Classifier, nil)
	if err != nil {
		return nil, fmt.Errorf("resolving classifier token: %w", err)
	}
	classifyTimeout, err := config.Duration(cfg.Classifier.Timeout, classifier.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("classifier.timeout: %w", err)
	}
	bc, err := breakerConfig(cfg.Classifier.Breaker)
	if err != nil {
		return nil, err
	}
	cl := classifier.New(cfg.Classifier.URL, token, classifyTimeout,
		classifier.WithBreaker(bc),
		classifier.WithLogger(logger),
	)

	resolver, err := newPlotsResolver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var maxConcurrent int64
	if cfg.Pipeline != nil {
		maxConcurrent = cfg.Pipeline.MaxConcurrentUploads
	}

	p := pipeline.New(pipeline.Deps{
		Analyzer:   an,
		Hasher:     hs,
		Store:      store,
		Classifier: cl,
		Plots:      resolver,
		Metrics:    rec,
	}, gate.New(cfg.SizeGate.MinBytes, cfg.SizeGate.MaxBytes), maxConcurrent)
	p.SetLogger(logger)
	return p, nil
}

// newNotifier builds a notifier for every sink cfg names. A nil cfg
// discards events.
func newNotifier(ctx context.Context, cfg *types.NotifyConfig, logger *slog.Logger) (notify.Notifier, error) {
	if cfg == nil {
		return notify.Noop{}, nil
	}

	var sinks notify.Multi
	if cfg.NATSURL != "" {
		n, err := notify.NewNATS(*cfg)
		if err != nil {
			return nil, err
		}
		n.SetLogger(logger)
		sinks = append(sinks, n)
		logger.Info("publishing job events to NATS", "subject", n.Subject(), "jetstream", cfg.JetStream)
	}

	if cfg.SQSQueueURL != "" || cfg.EventBusName != "" {
		awsCfg, err := loadAWSConfig(ctx, cfg.Region)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		if cfg.SQSQueueURL != "" {
			sinks = append(sinks, notify.NewSQS(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL))
			logger.Info("sending job events to SQS", "queue", cfg.SQSQueueURL)
		}
		if cfg.EventBusName != "" {
			sinks = append(sinks, notify.NewEventBridge(eventbridge.NewFromConfig(awsCfg), cfg.EventBusName))
			logger.Info("putting job events on EventBridge", "bus", cfg.EventBusName)
		}
	}

	switch len(sinks) {
	case 0:
		return notify.Noop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}
