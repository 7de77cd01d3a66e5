// Package redis implements the Provider interface using Redis/Valkey.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

const (
	defaultPrefix = "sampleflow:"
	defaultJobTTL = 7 * 24 * time.Hour
)

var _ provider.Provider = (*RedisProvider)(nil)

// RedisProvider implements the Provider interface backed by Redis/Valkey.
type RedisProvider struct {
	client       *goredis.Client
	prefix       string
	jobTTL       time.Duration
	insertScript *goredis.Script
	logger       *slog.Logger
}

// New creates a new RedisProvider.
func New(cfg *types.RedisConfig) (*RedisProvider, error) {
	jobTTL := defaultJobTTL
	if cfg.JobTTL != "" {
		d, err := time.ParseDuration(cfg.JobTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis jobTtl %q: %w", cfg.JobTTL, err)
		}
		jobTTL = d
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	p := NewFromClient(client, cfg.KeyPrefix)
	p.jobTTL = jobTTL
	return p, nil
}

// NewFromClient creates a RedisProvider from an existing client (useful for testing).
func NewFromClient(client *goredis.Client, prefix string) *RedisProvider {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisProvider{
		client:       client,
		prefix:       prefix,
		jobTTL:       defaultJobTTL,
		insertScript: goredis.NewScript(insertIfAbsent),
		logger:       slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (p *RedisProvider) SetLogger(l *slog.Logger) {
	if l != nil {
		p.logger = l
	}
}

// Start initializes the provider connection.
func (p *RedisProvider) Start(ctx context.Context) error {
	return p.Ping(ctx)
}

// Stop closes the provider connection.
func (p *RedisProvider) Stop(_ context.Context) error {
	return p.client.Close()
}

// Ping checks connectivity to the Redis server.
func (p *RedisProvider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Client returns the underlying Redis client (for advanced usage/testing).
func (p *RedisProvider) Client() *goredis.Client {
	return p.client
}

func (p *RedisProvider) fileKey(digest string) string {
	return p.prefix + "file:" + digest
}

func (p *RedisProvider) reportKey(fileID string) string {
	return p.prefix + "report:" + fileID
}

func (p *RedisProvider) jobKey(id string) string {
	return p.prefix + "job:" + id
}
