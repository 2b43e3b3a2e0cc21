// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Storage, Postgres, Kafka, Redis, Indexer, Search, Dense,
// etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fusion strategies understood by the fusion engine.
const (
	FusionWeighted = "weighted"
	FusionRRF      = "rrf"
)

// Storage drivers understood by the store package.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Dense    DenseConfig    `yaml:"dense"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"readTimeout"`
	WriteTimeout    time.Duration   `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig bounds requests per client IP. PerClient 0 disables it.
type RateLimitConfig struct {
	PerClient int           `yaml:"perClient"`
	Window    time.Duration `yaml:"window"`
}

// StorageConfig selects the persistence backend for the chapters,
// inverted_index and vocabulary tables.
type StorageConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlitePath"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest"`
	IndexComplete  string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls BM25 parameters and the batch indexing pipeline.
type IndexerConfig struct {
	K1            float64       `yaml:"k1"`
	B             float64       `yaml:"b"`
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// FusionConfig is the engine-wide default fusion strategy. Requests may
// override it.
type FusionConfig struct {
	Mode  string  `yaml:"mode"`
	Alpha float64 `yaml:"alpha"`
	RRFK  int     `yaml:"rrfK"`
}

// SearchConfig controls query limits and fusion defaults.
type SearchConfig struct {
	DefaultTopK     int          `yaml:"defaultTopK"`
	MaxTopK         int          `yaml:"maxTopK"`
	OverfetchFactor int          `yaml:"overfetchFactor"`
	DenseFatal      bool         `yaml:"denseFatal"`
	Fusion          FusionConfig `yaml:"fusion"`
}

// DenseConfig describes the external embedding-search service.
type DenseConfig struct {
	URL              string        `yaml:"url"`
	Timeout          time.Duration `yaml:"timeout"`
	CacheSize        int           `yaml:"cacheSize"`
	RetryAttempts    int           `yaml:"retryAttempts"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
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
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with local-development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit: RateLimitConfig{
				PerClient: 0,
				Window:    time.Minute,
			},
		},
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: "data/boolean_index.db",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "chapters",
			User:            "retrieval",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "hybrid-retrieval",
			Topics: KafkaTopics{
				DocumentIngest: "chapter-ingest",
				IndexComplete:  "index.complete",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			K1:            1.5,
			B:             0.75,
			Workers:       4,
			BatchSize:     256,
			FlushInterval: 5 * time.Second,
		},
		Search: SearchConfig{
			DefaultTopK:     5,
			MaxTopK:         100,
			OverfetchFactor: 2,
			Fusion: FusionConfig{
				Mode:  FusionWeighted,
				Alpha: 0.5,
				RRFK:  60,
			},
		},
		Dense: DenseConfig{
			Timeout:          2 * time.Second,
			CacheSize:        1000,
			RetryAttempts:    2,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
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

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Search.Fusion.Mode {
	case FusionWeighted, FusionRRF:
	default:
		return fmt.Errorf("unknown fusion mode %q", c.Search.Fusion.Mode)
	}
	if c.Search.Fusion.Alpha < 0 || c.Search.Fusion.Alpha > 1 {
		return fmt.Errorf("fusion alpha %v outside [0,1]", c.Search.Fusion.Alpha)
	}
	if c.Search.Fusion.RRFK <= 0 {
		return fmt.Errorf("rrf k must be positive, got %d", c.Search.Fusion.RRFK)
	}
	if c.Search.OverfetchFactor < 1 {
		return fmt.Errorf("overfetch factor must be at least 1, got %d", c.Search.OverfetchFactor)
	}
	if c.Search.DefaultTopK < 1 || c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("invalid topK bounds default=%d max=%d", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	if c.Server.RateLimit.PerClient < 0 || (c.Server.RateLimit.PerClient > 0 && c.Server.RateLimit.Window <= 0) {
		return fmt.Errorf("invalid rate limit %d per %s", c.Server.RateLimit.PerClient, c.Server.RateLimit.Window)
	}
	if c.Indexer.K1 < 0 || c.Indexer.B < 0 || c.Indexer.B > 1 {
		return fmt.Errorf("invalid bm25 parameters k1=%v b=%v", c.Indexer.K1, c.Indexer.B)
	}
	return nil
}

// applyEnvOverrides reads HR_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HR_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit.PerClient = n
		}
	}
	if v := os.Getenv("HR_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("HR_STORAGE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("HR_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("HR_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("HR_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("HR_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("HR_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("HR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("HR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("HR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HR_DENSE_URL"); v != "" {
		cfg.Dense.URL = v
	}
	if v := os.Getenv("HR_FUSION_MODE"); v != "" {
		cfg.Search.Fusion.Mode = v
	}
	if v := os.Getenv("HR_FUSION_ALPHA"); v != "" {
		if alpha, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.Fusion.Alpha = alpha
		}
	}
	if v := os.Getenv("HR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HR_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
