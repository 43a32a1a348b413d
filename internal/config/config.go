// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.veille/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: model and embedder selection (see validation.go for ranges)
//   - Storage: PostgreSQL connection (see storage.go)
//   - Ingest: fetch politeness, follow-up fan-out, retention
//   - Query: retrieval depth, context budget, web-search policy
//
// Sensitive data (the PostgreSQL password) is never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder dimension is out of range.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidChunking indicates chunk size/overlap values are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidThreshold indicates a similarity threshold is out of [0,1].
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidWebSearchMode indicates an unknown web-search policy value.
	ErrInvalidWebSearchMode = errors.New("invalid web search mode")
)

// Web-search policy values for Config.Query.WebSearch.
const (
	WebSearchAuto   = "auto"   // search when vector results are sparse or weak
	WebSearchAlways = "always" // search on every question
	WebSearchOff    = "off"    // never search
)

// IngestConfig holds fetch politeness and ingestion bounds.
type IngestConfig struct {
	// UserAgent sent on every fetch.
	UserAgent string `mapstructure:"user_agent" json:"user_agent"`
	// Parallelism is max concurrent requests per domain.
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
	// DelayMs is the delay between requests to one domain, in milliseconds.
	DelayMs int `mapstructure:"delay_ms" json:"delay_ms"`
	// TimeoutMs is the per-request timeout in milliseconds.
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
	// MaxRetries bounds fetch retries (exponential backoff between attempts).
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
	// MaxContentBytes caps a fetched document body.
	MaxContentBytes int64 `mapstructure:"max_content_bytes" json:"max_content_bytes"`
	// MaxFollowUps bounds blog-index fan-out per run; excess links wait for
	// the next scheduled tick.
	MaxFollowUps int `mapstructure:"max_follow_ups" json:"max_follow_ups"`
	// MaxParallelSources bounds concurrent source ingestions per cycle.
	MaxParallelSources int `mapstructure:"max_parallel_sources" json:"max_parallel_sources"`
	// RetentionDays is the pruning horizon for old content records.
	RetentionDays int `mapstructure:"retention_days" json:"retention_days"`
}

// Timeout returns the per-request fetch timeout as a duration.
func (c IngestConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Delay returns the per-domain politeness delay as a duration.
func (c IngestConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// ChunkingConfig controls chunk boundaries for the indexer.
type ChunkingConfig struct {
	// Size is the target chunk length in characters.
	Size int `mapstructure:"size" json:"size"`
	// Overlap is the character overlap between neighboring chunks.
	Overlap int `mapstructure:"overlap" json:"overlap"`
}

// QueryConfig controls retrieval and answer composition.
type QueryConfig struct {
	// TopK is the default number of chunks retrieved per question.
	TopK int `mapstructure:"top_k" json:"top_k"`
	// ContextBudget caps assembled context length in characters.
	ContextBudget int `mapstructure:"context_budget" json:"context_budget"`
	// HistoryTurns bounds chat history passed into the prompt.
	HistoryTurns int `mapstructure:"history_turns" json:"history_turns"`
	// TimeoutMs is the overall answer budget in milliseconds; past it the
	// degraded answer is returned instead of blocking.
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
	// WebSearch is one of "auto", "always", "off".
	WebSearch string `mapstructure:"web_search" json:"web_search"`
	// StrongSimilarity and WeakSimilarity bound the confidence rule.
	StrongSimilarity float32 `mapstructure:"strong_similarity" json:"strong_similarity"`
	WeakSimilarity   float32 `mapstructure:"weak_similarity" json:"weak_similarity"`
}

// SearXNGConfig holds the SearXNG instance used for live web search.
type SearXNGConfig struct {
	// BaseURL is the SearXNG instance URL (e.g., http://searxng:8080).
	// Empty disables web search regardless of Query.WebSearch.
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

// Config stores application configuration.
type Config struct {
	// AI model and embedder
	ModelName        string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel    string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDim      int    `mapstructure:"embedder_dim" json:"embedder_dim"`
	Temperature      float32 `mapstructure:"temperature" json:"temperature"`

	// Storage (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	Ingest   IngestConfig   `mapstructure:"ingest" json:"ingest"`
	Chunking ChunkingConfig `mapstructure:"chunking" json:"chunking"`
	Query    QueryConfig    `mapstructure:"query" json:"query"`
	SearXNG  SearXNGConfig  `mapstructure:"searxng" json:"searxng"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// AnswerTimeout returns the overall query budget as a duration.
func (c *Config) AnswerTimeout() time.Duration {
	return time.Duration(c.Query.TimeoutMs) * time.Millisecond
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".veille")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("VEILLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", "googleai/gemini-2.5-flash")
	v.SetDefault("embedder_model", "text-embedding-004")
	v.SetDefault("embedder_dim", 768)
	v.SetDefault("temperature", 0.2)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "veille")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "veille")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("ingest.user_agent", "veille/1.0 (+https://github.com/veillehq/veille)")
	v.SetDefault("ingest.parallelism", 2)
	v.SetDefault("ingest.delay_ms", 1000)
	v.SetDefault("ingest.timeout_ms", 30000)
	v.SetDefault("ingest.max_retries", 3)
	v.SetDefault("ingest.max_content_bytes", 1<<20)
	v.SetDefault("ingest.max_follow_ups", 10)
	v.SetDefault("ingest.max_parallel_sources", 4)
	v.SetDefault("ingest.retention_days", 90)

	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap", 200)

	v.SetDefault("query.top_k", 5)
	v.SetDefault("query.context_budget", 6000)
	v.SetDefault("query.history_turns", 6)
	v.SetDefault("query.timeout_ms", 45000)
	v.SetDefault("query.web_search", WebSearchAuto)
	v.SetDefault("query.strong_similarity", 0.78)
	v.SetDefault("query.weak_similarity", 0.60)

	v.SetDefault("searxng.base_url", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}
