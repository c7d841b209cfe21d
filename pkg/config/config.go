// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Search, Worker, Archive, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Search   SearchConfig   `yaml:"search"`
	Worker   WorkerConfig   `yaml:"worker"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of API requests each client may make per
	// minute. Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// PostgresConfig holds PostgreSQL connection parameters for the item store.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	WorkerRequests  string `yaml:"workerRequests"`
	WorkerResponses string `yaml:"workerResponses"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and result-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// SearchConfig controls query execution, facets and indexing cadence.
type SearchConfig struct {
	DefaultLimit  int           `yaml:"defaultLimit"`
	MaxResults    int           `yaml:"maxResults"`
	BudgetMs      int           `yaml:"budgetMs"`
	FacetBudget   time.Duration `yaml:"facetBudget"`
	ChunkSize     int           `yaml:"chunkSize"`
	IndexDebounce time.Duration `yaml:"indexDebounce"`
}

// Worker transports.
const (
	TransportInProc = "inproc"
	TransportKafka  = "kafka"
)

// WorkerConfig selects how the search manager reaches its worker.
type WorkerConfig struct {
	Transport string `yaml:"transport"`
}

// ArchiveConfig identifies whose archive is served.
type ArchiveConfig struct {
	UserID    string `yaml:"userId"`
	ItemsFile string `yaml:"itemsFile"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  5 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "archivesearch",
			User:            "archivesearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "archive-search-worker",
			Topics: KafkaTopics{
				WorkerRequests:  "archive-search.worker.requests",
				WorkerResponses: "archive-search.worker.responses",
				AnalyticsEvents: "archive-search.analytics",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Search: SearchConfig{
			DefaultLimit:  50,
			MaxResults:    500,
			BudgetMs:      150,
			FacetBudget:   30 * time.Millisecond,
			ChunkSize:     500,
			IndexDebounce: 50 * time.Millisecond,
		},
		Worker: WorkerConfig{
			Transport: TransportInProc,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Worker.Transport {
	case TransportInProc:
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topics.WorkerRequests == "" || c.Kafka.Topics.WorkerResponses == "" {
			return apperrors.Newf(apperrors.ErrInvalidInput, 0, "kafka worker transport needs brokers and worker topics")
		}
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "unknown worker transport %q", c.Worker.Transport)
	}
	if c.Server.RateLimit < 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "server.rateLimit must not be negative, got %d", c.Server.RateLimit)
	}
	if c.Search.ChunkSize <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "search.chunkSize must be positive, got %d", c.Search.ChunkSize)
	}
	if c.Search.BudgetMs < 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "search.budgetMs must not be negative, got %d", c.Search.BudgetMs)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "search limits invalid: defaultLimit=%d maxResults=%d", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// applyEnvOverrides reads AS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setInt("AS_SERVER_PORT", &cfg.Server.Port)
	setInt("AS_SERVER_RATE_LIMIT", &cfg.Server.RateLimit)
	setBool("AS_POSTGRES_ENABLED", &cfg.Postgres.Enabled)
	setString("AS_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("AS_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("AS_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("AS_POSTGRES_USER", &cfg.Postgres.User)
	setString("AS_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("AS_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("AS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setBool("AS_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("AS_REDIS_ADDR", &cfg.Redis.Addr)
	setString("AS_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("AS_SEARCH_BUDGET_MS", &cfg.Search.BudgetMs)
	setInt("AS_SEARCH_CHUNK_SIZE", &cfg.Search.ChunkSize)
	setDuration("AS_SEARCH_INDEX_DEBOUNCE", &cfg.Search.IndexDebounce)
	setString("AS_WORKER_TRANSPORT", &cfg.Worker.Transport)
	setString("AS_ARCHIVE_USER_ID", &cfg.Archive.UserID)
	setString("AS_ARCHIVE_ITEMS_FILE", &cfg.Archive.ItemsFile)
	setString("AS_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("AS_LOGGING_FORMAT", &cfg.Logging.Format)
	setBool("AS_METRICS_ENABLED", &cfg.Metrics.Enabled)
	setInt("AS_METRICS_PORT", &cfg.Metrics.Port)
}
