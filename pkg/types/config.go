package types

// ProjectConfig represents the top-level sampleflow.yaml configuration.
type ProjectConfig struct {
	Provider   ProviderType     `yaml:"provider"`
	Redis      *RedisConfig     `yaml:"redis,omitempty"`
	DynamoDB   *DynamoDBConfig  `yaml:"dynamodb,omitempty"`
	Postgres   *PostgresConfig  `yaml:"postgres,omitempty"`
	Server     *ServerConfig    `yaml:"server,omitempty"`
	Analyzer   ToolConfig       `yaml:"analyzer"`
	Hasher     HasherConfig     `yaml:"hasher"`
	Classifier ClassifierConfig `yaml:"classifier"`
	SizeGate   SizeGateConfig   `yaml:"sizeGate"`
	Plots      PlotsConfig      `yaml:"plots"`
	Pipeline   *PipelineConfig  `yaml:"pipeline,omitempty"`
	Worker     *WorkerConfig    `yaml:"worker,omitempty"`
	Notify     *NotifyConfig    `yaml:"notify,omitempty"`
	Telemetry  *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// RedisConfig holds Redis/Valkey connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix"`
	JobTTL    string `yaml:"jobTtl,omitempty" json:"jobTtl,omitempty"` // default "168h" (7 days)
}

// DynamoDBConfig holds DynamoDB connection and table settings.
type DynamoDBConfig struct {
	TableName   string `yaml:"tableName" json:"tableName"`
	Region      string `yaml:"region" json:"region"`
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	JobTTL      string `yaml:"jobTtl,omitempty" json:"jobTtl,omitempty"`
	CreateTable bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	DSN     string `yaml:"dsn" json:"dsn"`
	Migrate bool   `yaml:"migrate,omitempty" json:"migrate,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	APIKey         string   `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	MaxUploadBytes int64    `yaml:"maxUploadBytes,omitempty" json:"maxUploadBytes,omitempty"`
	UploadDir      string   `yaml:"uploadDir,omitempty" json:"uploadDir,omitempty"`
	PublicBaseURL  string   `yaml:"publicBaseUrl,omitempty" json:"publicBaseUrl,omitempty"`
	CORSOrigins    []string `yaml:"corsOrigins,omitempty" json:"corsOrigins,omitempty"`
	RateLimit      int      `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"` // uploads per minute per client IP
}

// ToolConfig describes an external script run through an interpreter.
type ToolConfig struct {
	Interpreter string `yaml:"interpreter,omitempty" json:"interpreter,omitempty"` // e.g. ".venv/bin/python3"
	Script      string `yaml:"script" json:"script"`
	Timeout     string `yaml:"timeout,omitempty" json:"timeout,omitempty"` // e.g. "60s"
}

// HasherConfig configures the hashing collaborator.
type HasherConfig struct {
	ToolConfig  `yaml:",inline"`
	DigestField string `yaml:"digestField,omitempty" json:"digestField,omitempty"` // default "md5"
}

// ClassifierConfig configures the remote classification service.
type ClassifierConfig struct {
	URL            string                `yaml:"url" json:"url"`
	Token          string                `yaml:"token,omitempty" json:"-"`
	TokenSecretARN string                `yaml:"tokenSecretArn,omitempty" json:"tokenSecretArn,omitempty"`
	Region         string                `yaml:"region,omitempty" json:"region,omitempty"`
	Timeout        string                `yaml:"timeout,omitempty" json:"timeout,omitempty"` // e.g. "30s"
	Breaker        *CircuitBreakerConfig `yaml:"breaker,omitempty" json:"breaker,omitempty"`
}

// CircuitBreakerConfig holds circuit breaker settings for the classifier.
type CircuitBreakerConfig struct {
	FailThreshold int    `yaml:"failThreshold,omitempty" json:"failThreshold,omitempty"` // consecutive failures before opening
	Cooldown      string `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`           // open -> half-open delay
	FailWindow    string `yaml:"failWindow,omitempty" json:"failWindow,omitempty"`       // closed-state counter reset interval
}

// SizeGateConfig bounds the byte size of samples eligible for classification.
type SizeGateConfig struct {
	MinBytes int64 `yaml:"minBytes,omitempty" json:"minBytes,omitempty"`
	MaxBytes int64 `yaml:"maxBytes,omitempty" json:"maxBytes,omitempty"`
}

// PlotsConfig controls where analyzer plot images live and how they are exposed.
type PlotsConfig struct {
	Dir       string    `yaml:"dir,omitempty" json:"dir,omitempty"`             // default "plots"
	URLPrefix string    `yaml:"urlPrefix,omitempty" json:"urlPrefix,omitempty"` // default "/plots/"
	Metrics   []string  `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	S3        *S3Config `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// S3Config configures publishing plots to an S3-compatible bucket.
type S3Config struct {
	Bucket     string `yaml:"bucket" json:"bucket"`
	Prefix     string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region     string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint   string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	PresignTTL string `yaml:"presignTtl,omitempty" json:"presignTtl,omitempty"` // default "15m"
}

// PipelineConfig holds orchestrator-level settings.
type PipelineConfig struct {
	MaxConcurrentUploads int64 `yaml:"maxConcurrentUploads,omitempty" json:"maxConcurrentUploads,omitempty"`
}

// WorkerConfig configures the deferred-processing worker.
type WorkerConfig struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	Workers   int  `yaml:"workers,omitempty" json:"workers,omitempty"`
	QueueSize int  `yaml:"queueSize,omitempty" json:"queueSize,omitempty"`
}

// NotifyConfig configures job completion notifications.
// At least one of NATSURL, SQSQueueURL or EventBusName must be set; every
// configured sink receives each event.
type NotifyConfig struct {
	NATSURL      string `yaml:"natsUrl,omitempty" json:"natsUrl,omitempty"`
	Subject      string `yaml:"subject,omitempty" json:"subject,omitempty"` // default "sampleflow.jobs.completed"
	JetStream    bool   `yaml:"jetStream,omitempty" json:"jetStream,omitempty"`
	SQSQueueURL  string `yaml:"sqsQueueUrl,omitempty" json:"sqsQueueUrl,omitempty"`
	EventBusName string `yaml:"eventBusName,omitempty" json:"eventBusName,omitempty"`
	Region       string `yaml:"region,omitempty" json:"region,omitempty"`
}

// TelemetryConfig configures OpenTelemetry tracing export.
type TelemetryConfig struct {
	ServiceName  string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}
