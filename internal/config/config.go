package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL       string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns        int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"1h"`

	MaxRequestBytes int64         `envconfig:"MAX_REQUEST_BYTES" default:"5242880"`
	MaxIngestBytes  int64         `envconfig:"MAX_INGEST_BYTES" default:"33554432"`
	SlowRequest     time.Duration `envconfig:"SLOW_REQUEST" default:"2s"`

	// APIKey enables bearer-token authentication on the HTTP API when set.
	APIKey string `envconfig:"API_KEY"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`

	VectorStore      string `envconfig:"VECTOR_STORE" default:"pgvector"`
	VectorTable      string `envconfig:"VECTOR_TABLE" default:"memory_vectors"`
	QdrantURL        string `envconfig:"QDRANT_URL"`
	QdrantAPIKey     string `envconfig:"QDRANT_API_KEY"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"memory_vectors"`

	WorkDir          string        `envconfig:"WORK_DIR" default:"./data"`
	MaxFileSize      int64         `envconfig:"MAX_FILE_SIZE" default:"1048576"`
	CloneDepth       int           `envconfig:"CLONE_DEPTH" default:"1"`
	CloneTimeout     time.Duration `envconfig:"CLONE_TIMEOUT" default:"5m"`
	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"2m"`
	IndexConcurrency int           `envconfig:"INDEX_CONCURRENCY" default:"2"`
	PollInterval     time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	StallThreshold   time.Duration `envconfig:"STALL_THRESHOLD" default:"10m"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	SearchCache     string        `envconfig:"SEARCH_CACHE" default:"lru"`
	SearchCacheTTL  time.Duration `envconfig:"SEARCH_CACHE_TTL" default:"30m"`
	SearchCacheSize int           `envconfig:"SEARCH_CACHE_SIZE" default:"1000"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"repomem-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("REPOMEM", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) validate() error {
	switch c.VectorStore {
	case "pgvector", "memory":
	case "qdrant":
		if c.QdrantURL == "" {
			return fmt.Errorf("invalid config: REPOMEM_QDRANT_URL is required for the qdrant vector store")
		}
	default:
		return fmt.Errorf("invalid config: unknown REPOMEM_VECTOR_STORE %q", c.VectorStore)
	}
	switch c.SearchCache {
	case "lru", "postgres", "none":
	default:
		return fmt.Errorf("invalid config: unknown REPOMEM_SEARCH_CACHE %q", c.SearchCache)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("invalid config: REPOMEM_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.IndexConcurrency <= 0 {
		return fmt.Errorf("invalid config: REPOMEM_INDEX_CONCURRENCY must be positive")
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid config: REPOMEM_DB_MIN_CONNS exceeds REPOMEM_DB_MAX_CONNS")
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

// HasAuth reports whether the HTTP API requires a bearer token.
func (c *Config) HasAuth() bool {
	return c.APIKey != ""
}

// TracesSampleRate samples everything outside production.
func (c *Config) TracesSampleRate() float64 {
	if c.Environment == "production" {
		return 0.1
	}
	return 1.0
}
