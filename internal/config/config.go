// Package config loads and validates follower configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/depfollow/internal/follower"
)

// Backend names accepted by the store, artifacts and notify sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
	BackendNATS     = "nats"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Follower  FollowerConfig  `mapstructure:"follower"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Store     StoreConfig     `mapstructure:"store"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// FollowerConfig controls the control loop.
type FollowerConfig struct {
	// FromSequence is kept raw so both YAML integers and env strings are
	// accepted; StartSequence validates it.
	FromSequence   any `mapstructure:"from_sequence"`
	JobConcurrency int `mapstructure:"job_concurrency"`
}

// FeedConfig describes the upstream change feed.
type FeedConfig struct {
	URL              string `mapstructure:"url"`
	HeartbeatSeconds int    `mapstructure:"heartbeat_seconds"`
	ConnectAttempts  uint   `mapstructure:"connect_attempts"`
	RetryDelayMs     int    `mapstructure:"retry_delay_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// StoreConfig selects the key-value backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig holds Redis connection details.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PostgresConfig holds Postgres connection details.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// ArtifactsConfig selects where manifests are written.
type ArtifactsConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	// MaxPerSecond throttles manifest writes; zero is unlimited.
	MaxPerSecond float64 `mapstructure:"max_per_second"`
}

// NotifyConfig selects where version notifications are published.
type NotifyConfig struct {
	Backend         string `mapstructure:"backend"`
	Topic           string `mapstructure:"topic"`
	PubSubProjectID string `mapstructure:"pubsub_project_id"`
	NATSURL         string `mapstructure:"nats_url"`
	SubjectPrefix   string `mapstructure:"subject_prefix"`
	// MaxPerSecond throttles notifications; zero is unlimited.
	MaxPerSecond float64 `mapstructure:"max_per_second"`
}

// ProgressConfig tunes the lifecycle event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	// OTLPEndpoint is a host:port gRPC collector. Empty keeps spans in
	// process only.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEPFOLLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("follower.from_sequence", 0)
	v.SetDefault("follower.job_concurrency", 0)
	v.SetDefault("feed.url", "https://replicate.npmjs.com/registry")
	v.SetDefault("feed.heartbeat_seconds", 30)
	v.SetDefault("feed.connect_attempts", 5)
	v.SetDefault("feed.retry_delay_ms", 500)
	v.SetDefault("feed.user_agent", "depfollow/0.1")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.key_prefix", "depfollow:")
	v.SetDefault("store.postgres.table", "depfollow_kv")
	v.SetDefault("store.postgres.ensure_schema", true)
	v.SetDefault("artifacts.backend", BackendNone)
	v.SetDefault("artifacts.prefix", "manifests")
	v.SetDefault("notify.backend", BackendNone)
	v.SetDefault("notify.topic", "package-versions")
	v.SetDefault("artifacts.max_per_second", 0)
	v.SetDefault("notify.max_per_second", 0)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "depfollow")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.otlp_insecure", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if _, err := c.StartSequence(); err != nil {
		return fmt.Errorf("follower.from_sequence: %w", err)
	}
	if c.Follower.JobConcurrency < 0 {
		return fmt.Errorf("follower.job_concurrency must be >= 0")
	}
	if strings.TrimSpace(c.Feed.URL) == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Feed.HeartbeatSeconds <= 0 {
		return fmt.Errorf("feed.heartbeat_seconds must be > 0")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	switch c.Artifacts.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Artifacts.LocalDir == "" {
			return fmt.Errorf("artifacts.local_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Artifacts.GCSBucket == "" {
			return fmt.Errorf("artifacts.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("artifacts.backend %q is not supported", c.Artifacts.Backend)
	}
	switch c.Notify.Backend {
	case BackendNone:
		return c.validateProgress()
	case BackendMemory:
	case BackendPubSub:
		if c.Notify.PubSubProjectID == "" {
			return fmt.Errorf("notify.pubsub_project_id is required for the pubsub backend")
		}
	case BackendNATS:
		if c.Notify.NATSURL == "" {
			return fmt.Errorf("notify.nats_url is required for the nats backend")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	if c.Notify.Topic == "" {
		return fmt.Errorf("notify.topic is required when notifications are enabled")
	}
	return c.validateProgress()
}

func (c Config) validateProgress() error {
	if c.Artifacts.MaxPerSecond < 0 || c.Notify.MaxPerSecond < 0 {
		return fmt.Errorf("max_per_second must be >= 0")
	}
	if c.Progress.BufferSize < 0 || c.Progress.MaxBatchEvents < 0 || c.Progress.MaxBatchWaitMs < 0 {
		return fmt.Errorf("progress settings must be >= 0")
	}
	return nil
}

// StartSequence returns the validated starting sequence.
func (c Config) StartSequence() (int64, error) {
	return follower.ParseSequence(c.Follower.FromSequence)
}

// Heartbeat converts the heartbeat setting to a duration.
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.Feed.HeartbeatSeconds) * time.Second
}

// RetryDelay converts the feed retry delay to a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Feed.RetryDelayMs) * time.Millisecond
}

// BatchWait converts the progress batch wait to a duration.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
