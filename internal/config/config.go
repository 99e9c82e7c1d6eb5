// Package config provides configuration management for threadline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm/logger"
)

// Environment variable overrides. Values in the environment win over the
// config file so deployments can tune policy without editing YAML.
const (
	EnvConfigPath      = "THREADLINE_CONFIG"
	EnvDatabaseDSN     = "THREADLINE_DATABASE_DSN"
	EnvOpenAIAPIKey    = "THREADLINE_OPENAI_API_KEY"
	EnvAcceptScore     = "THREADLINE_ACCEPT_SCORE"
	EnvCosineThreshold = "THREADLINE_COSINE_THRESHOLD"
	EnvListenAddr      = "THREADLINE_LISTEN_ADDR"
)

// Defaults mirror the deployment the engine was tuned on. All of them are
// policy, not design: the acceptance threshold, recency windows and fail-open
// behavior are expected to differ between deployments.
const (
	DefaultEmbeddingDim    = 3072
	DefaultTopK            = 10
	DefaultCosineThreshold = 0.7
	DefaultAcceptScore     = 70
	DefaultStaleAfter      = 72 * time.Hour
	DefaultResolveAfter    = 14 * 24 * time.Hour
	DefaultSweepInterval   = time.Hour
	DefaultWorkers         = 4
	DefaultListenAddr      = ":8642"
	DefaultMaxConns        = 8
	DefaultRetryAttempts   = 3
	DefaultRetryBackoff    = 2 * time.Second
	DefaultMaxPromptTokens = 6000
	DefaultChatModel       = "gpt-4o-mini"
	DefaultEmbeddingModel  = "text-embedding-3-large"
)

// Config holds all settings for the threadline daemon.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig describes the Postgres connection.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"maxConns"`
	LogSQL   bool   `yaml:"logSql"`
}

// GormLogLevel maps the logSql flag onto a GORM logger level.
func (d DatabaseConfig) GormLogLevel() logger.LogLevel {
	if d.LogSQL {
		return logger.Info
	}
	return logger.Silent
}

// LLMConfig defines how to reach the embedding/judgment service.
type LLMConfig struct {
	APIKey          string        `yaml:"apiKey"`
	BaseURL         string        `yaml:"baseUrl"`
	ChatModel       string        `yaml:"chatModel"`
	EmbeddingModel  string        `yaml:"embeddingModel"`
	EmbeddingDim    int           `yaml:"embeddingDim"`
	RetryAttempts   int           `yaml:"retryAttempts"`
	RetryBackoff    time.Duration `yaml:"retryBackoff"`
	MaxPromptTokens int           `yaml:"maxPromptTokens"`
}

// SimilarityConfig holds the candidate-retrieval and acceptance policy.
type SimilarityConfig struct {
	TopK            int     `yaml:"topK"`
	CosineThreshold float64 `yaml:"cosineThreshold"`
	AcceptScore     int     `yaml:"acceptScore"`
}

// LifecycleConfig holds the recency windows driving status transitions.
type LifecycleConfig struct {
	StaleAfter    time.Duration `yaml:"staleAfter"`
	ResolveAfter  time.Duration `yaml:"resolveAfter"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// IngestConfig controls batch processing of incoming articles.
type IngestConfig struct {
	Workers int `yaml:"workers"`
	// FailOpen decides what happens when the judge fails for every candidate:
	// true falls through to thread creation, false surfaces a retryable error.
	FailOpen bool `yaml:"failOpen"`
}

// ServerConfig describes the read API listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// Default returns a Config populated with deployment defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxConns: DefaultMaxConns,
		},
		LLM: LLMConfig{
			ChatModel:       DefaultChatModel,
			EmbeddingModel:  DefaultEmbeddingModel,
			EmbeddingDim:    DefaultEmbeddingDim,
			RetryAttempts:   DefaultRetryAttempts,
			RetryBackoff:    DefaultRetryBackoff,
			MaxPromptTokens: DefaultMaxPromptTokens,
		},
		Similarity: SimilarityConfig{
			TopK:            DefaultTopK,
			CosineThreshold: DefaultCosineThreshold,
			AcceptScore:     DefaultAcceptScore,
		},
		Lifecycle: LifecycleConfig{
			StaleAfter:    DefaultStaleAfter,
			ResolveAfter:  DefaultResolveAfter,
			SweepInterval: DefaultSweepInterval,
		},
		Ingest: IngestConfig{
			Workers: DefaultWorkers,
		},
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
		},
	}
}

// Load reads the YAML config at path, layers it over defaults and applies
// environment overrides. A missing file is not an error; defaults plus
// environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment overrides onto the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv(EnvAcceptScore); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Similarity.AcceptScore = n
		}
	}
	if v := os.Getenv(EnvCosineThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Similarity.CosineThreshold = f
		}
	}
}

// Validate rejects configurations that would violate engine invariants.
func (c *Config) Validate() error {
	if c.LLM.EmbeddingDim <= 0 {
		return fmt.Errorf("llm.embeddingDim must be positive, got %d", c.LLM.EmbeddingDim)
	}
	if c.Similarity.TopK <= 0 {
		return fmt.Errorf("similarity.topK must be positive, got %d", c.Similarity.TopK)
	}
	if c.Similarity.CosineThreshold < -1 || c.Similarity.CosineThreshold > 1 {
		return fmt.Errorf("similarity.cosineThreshold %f outside [-1, 1]", c.Similarity.CosineThreshold)
	}
	if c.Similarity.AcceptScore < 0 || c.Similarity.AcceptScore > 100 {
		return fmt.Errorf("similarity.acceptScore %d outside [0, 100]", c.Similarity.AcceptScore)
	}
	if c.Lifecycle.StaleAfter <= 0 || c.Lifecycle.ResolveAfter <= 0 {
		return fmt.Errorf("lifecycle windows must be positive")
	}
	if c.Lifecycle.ResolveAfter <= c.Lifecycle.StaleAfter {
		return fmt.Errorf("lifecycle.resolveAfter (%s) must exceed lifecycle.staleAfter (%s)",
			c.Lifecycle.ResolveAfter, c.Lifecycle.StaleAfter)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	return nil
}
