// Package config defines the global configuration for the slowpress engine.
// Configuration is loaded once at process start and is immutable thereafter.
// Values come from the OS environment, optionally seeded from a .env file.
// Any missing required value or invalid format fails startup immediately.
package config

import (
	"time"
)

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"slowpress-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Delay     DelayConfig
	Batch     BatchConfig
	Monitor   MonitorConfig
	Faults    FaultsConfig
	Email     EmailConfig
	Offline   OfflineConfig
	Security  SecurityConfig
	Retention RetentionConfig
}

// ServerConfig holds the operational HTTP surface settings (health/metrics).
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds Postgres connection and pool tuning parameters.
type DatabaseConfig struct {
	URL               string        `envconfig:"DATABASE_URL" validate:"required,url"`
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig holds the rate-limit counter store connection settings.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// DelayConfig holds the publication delay defaults.
type DelayConfig struct {
	// DefaultHours seeds the global delay settings document on first boot.
	DefaultHours int `envconfig:"DELAY_DEFAULT_HOURS" default:"24" validate:"min=0"`
	// PrepublishLead is how far before publishAt the "publishing soon"
	// notification fires.
	PrepublishLead time.Duration `envconfig:"PREPUBLISH_LEAD" default:"5m"`
	// PrepublishScanInterval is the tick interval of the durable timer scanner.
	PrepublishScanInterval time.Duration `envconfig:"PREPUBLISH_SCAN_INTERVAL" default:"30s"`
}

// BatchConfig holds batch processor tuning.
type BatchConfig struct {
	Interval  time.Duration `envconfig:"BATCH_INTERVAL" default:"5m"`
	BatchSize int           `envconfig:"BATCH_SIZE" default:"50" validate:"min=1"`
}

// MonitorConfig holds monitoring service tuning.
type MonitorConfig struct {
	CollectInterval time.Duration `envconfig:"METRICS_COLLECT_INTERVAL" default:"60s"`
	// CloudWatchNamespace enables the CloudWatch metric publisher when set.
	CloudWatchNamespace string `envconfig:"CLOUDWATCH_NAMESPACE"`
}

// FaultsConfig holds error handler tuning.
type FaultsConfig struct {
	Window    time.Duration `envconfig:"ERROR_WINDOW" default:"1h"`
	Threshold int           `envconfig:"ERROR_THRESHOLD" default:"100" validate:"min=1"`
}

// EmailConfig holds email delivery settings. When Enabled is false the
// engine still records notifications but skips transport entirely.
type EmailConfig struct {
	Enabled       bool   `envconfig:"EMAIL_ENABLED" default:"false"`
	FromAddress   string `envconfig:"EMAIL_FROM_ADDRESS" default:"no-reply@slowpress.io"`
	FromName      string `envconfig:"EMAIL_FROM_NAME" default:"slowpress"`
	ConfigSetName string `envconfig:"SES_CONFIG_SET"`
	AWSRegion     string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// OfflineConfig holds offline queue tuning.
type OfflineConfig struct {
	// StorePath is the SQLite file backing the durable content queue.
	StorePath  string        `envconfig:"OFFLINE_STORE_PATH" default:"slowpress-offline.db"`
	RetryDelay time.Duration `envconfig:"OFFLINE_RETRY_DELAY" default:"5s"`
	MaxRetries int           `envconfig:"OFFLINE_MAX_RETRIES" default:"3" validate:"min=1"`
	// DrainInterval is how often the queue processors run.
	DrainInterval time.Duration `envconfig:"OFFLINE_DRAIN_INTERVAL" default:"15s"`
}

// SecurityConfig holds rate limit windows and abuse settings.
type SecurityConfig struct {
	APILimit      int           `envconfig:"RATE_API_LIMIT" default:"100"`
	APIWindow     time.Duration `envconfig:"RATE_API_WINDOW" default:"15m"`
	AuthLimit     int           `envconfig:"RATE_AUTH_LIMIT" default:"5"`
	AuthWindow    time.Duration `envconfig:"RATE_AUTH_WINDOW" default:"1h"`
	ContentLimit  int           `envconfig:"RATE_CONTENT_LIMIT" default:"50"`
	ContentWindow time.Duration `envconfig:"RATE_CONTENT_WINDOW" default:"24h"`
}

// RetentionConfig holds maintenance job tuning.
type RetentionConfig struct {
	// AuditTTL is how long security audit entries are kept before archival.
	AuditTTL time.Duration `envconfig:"AUDIT_RETENTION" default:"2160h"` // 90 days
	// ArchiveDir receives zstd-compressed audit batches evicted by retention.
	ArchiveDir string `envconfig:"AUDIT_ARCHIVE_DIR" default:"archive"`
	// PurgeInterval is how often expired notifications and audit entries are
	// swept.
	PurgeInterval time.Duration `envconfig:"RETENTION_PURGE_INTERVAL" default:"1h"`
}
