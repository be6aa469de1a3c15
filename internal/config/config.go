// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// Backend names accepted by the pluggable sections.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendBlob     = "blob"
	BackendPubSub   = "pubsub"
	BackendRedis    = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Index     IndexConfig     `mapstructure:"index"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Sources   []SourceSeed    `mapstructure:"sources"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SchedulerConfig tunes the control loop.
type SchedulerConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	CollectTimeout time.Duration `mapstructure:"collect_timeout"`
	MaxConcurrent  int64         `mapstructure:"max_concurrent"`
	DisableTicker  bool          `mapstructure:"disable_ticker"`
}

// FetchConfig configures the HTTP fetcher shared by feed and web collectors.
type FetchConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig sets per-host request rates.
type RateLimitConfig struct {
	DefaultRPS   float64                  `mapstructure:"default_rps"`
	DefaultBurst int                      `mapstructure:"default_burst"`
	Hosts        map[string]HostRateLimit `mapstructure:"hosts"`
}

// HostRateLimit overrides the default rate for one host.
type HostRateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// DatabaseConfig selects the source/document store.
type DatabaseConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

// PostgresConfig controls the pgx pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// MongoConfig controls the MongoDB client.
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// BlobConfig selects where index drops are written.
type BlobConfig struct {
	Backend string    `mapstructure:"backend"`
	Local   LocalBlob `mapstructure:"local"`
	GCS     GCSBlob   `mapstructure:"gcs"`
}

// LocalBlob configures the filesystem blob store.
type LocalBlob struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSBlob configures the GCS blob store.
type GCSBlob struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// IndexConfig selects the indexer.
type IndexConfig struct {
	Backend string `mapstructure:"backend"`
	Prefix  string `mapstructure:"prefix"`
}

// NotifyConfig selects the notification publisher.
type NotifyConfig struct {
	Backend string       `mapstructure:"backend"`
	Topic   string       `mapstructure:"topic"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	Redis   RedisConfig  `mapstructure:"redis"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// RedisConfig holds Redis Streams settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// FanoutConfig bounds downstream calls.
type FanoutConfig struct {
	IndexTimeout  time.Duration `mapstructure:"index_timeout"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
}

// ProgressConfig tunes the sync event hub.
type ProgressConfig struct {
	BufferSize       int           `mapstructure:"buffer_size"`
	MaxBatchEvents   int           `mapstructure:"max_batch_events"`
	MaxBatchWait     time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout      time.Duration `mapstructure:"sink_timeout"`
	LogEvents        bool          `mapstructure:"log_events"`
	HistoryPerSource int           `mapstructure:"history_per_source"`
}

// SourceSeed declares a source created at startup when its URL is unknown.
type SourceSeed struct {
	Name        string              `mapstructure:"name"`
	URL         string              `mapstructure:"url"`
	Type        string              `mapstructure:"type"`
	Interval    string              `mapstructure:"interval"`
	Paused      bool                `mapstructure:"paused"`
	Tags        []string            `mapstructure:"tags"`
	Description string              `mapstructure:"description"`
	Config      ingest.SourceConfig `mapstructure:"config"`
}

// Source converts the seed into an unsaved ingest.Source.
func (s SourceSeed) Source() ingest.Source {
	return ingest.Source{
		Name:        s.Name,
		URL:         s.URL,
		Type:        ingest.SourceType(strings.ToUpper(s.Type)),
		Interval:    ingest.Interval(strings.ToUpper(s.Interval)),
		IsPaused:    s.Paused,
		Tags:        s.Tags,
		Description: s.Description,
		Config:      s.Config,
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOURCESYNC")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("scheduler.tick_interval", "60s")
	v.SetDefault("scheduler.stop_timeout", "30s")
	v.SetDefault("scheduler.collect_timeout", "5m")
	v.SetDefault("scheduler.max_concurrent", 0)
	v.SetDefault("fetch.user_agent", "sourcesync/0.1")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 2)
	v.SetDefault("database.backend", BackendMemory)
	v.SetDefault("database.postgres.max_conns", 8)
	v.SetDefault("database.postgres.min_conns", 1)
	v.SetDefault("database.postgres.max_conn_lifetime", "30m")
	v.SetDefault("database.postgres.migrate", true)
	v.SetDefault("database.mongo.database", "sourcesync")
	v.SetDefault("database.mongo.connect_timeout", "10s")
	v.SetDefault("blob.backend", BackendMemory)
	v.SetDefault("blob.local.base_dir", "data/index")
	v.SetDefault("index.backend", BackendMemory)
	v.SetDefault("index.prefix", "index")
	v.SetDefault("notify.backend", BackendMemory)
	v.SetDefault("notify.topic", "sourcesync.documents")
	v.SetDefault("notify.redis.addr", "localhost:6379")
	v.SetDefault("notify.redis.max_len", 10000)
	v.SetDefault("fanout.index_timeout", "30s")
	v.SetDefault("fanout.notify_timeout", "10s")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("progress.log_events", true)
	v.SetDefault("progress.history_per_source", 20)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, errors.New("scheduler.tick_interval must be > 0"))
	}
	if c.Scheduler.MaxConcurrent < 0 {
		errs = append(errs, errors.New("scheduler.max_concurrent must be >= 0"))
	}
	if c.RateLimit.DefaultRPS <= 0 {
		errs = append(errs, errors.New("rate_limit.default_rps must be > 0"))
	}
	switch c.Database.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.Postgres.DSN == "" {
			errs = append(errs, errors.New("database.postgres.dsn is required for the postgres backend"))
		}
	case BackendMongo:
		if c.Database.Mongo.URI == "" {
			errs = append(errs, errors.New("database.mongo.uri is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.backend %q is not supported", c.Database.Backend))
	}
	switch c.Blob.Backend {
	case BackendMemory, BackendLocal:
	case BackendGCS:
		if c.Blob.GCS.Bucket == "" {
			errs = append(errs, errors.New("blob.gcs.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.backend %q is not supported", c.Blob.Backend))
	}
	switch c.Index.Backend {
	case BackendMemory, BackendBlob:
	default:
		errs = append(errs, fmt.Errorf("index.backend %q is not supported", c.Index.Backend))
	}
	switch c.Notify.Backend {
	case BackendMemory:
	case BackendPubSub:
		if c.Notify.PubSub.ProjectID == "" {
			errs = append(errs, errors.New("notify.pubsub.project_id is required for the pubsub backend"))
		}
	case BackendRedis:
		if c.Notify.Redis.Addr == "" {
			errs = append(errs, errors.New("notify.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend))
	}
	for i, seed := range c.Sources {
		if err := seed.Source().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
