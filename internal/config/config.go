package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig     `yaml:"circuit" mapstructure:"circuit"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" mapstructure:"rate_limit"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" mapstructure:"fingerprint"`
	DocType     DocTypeConfig     `yaml:"doctype" mapstructure:"doctype"`
	Parser      ParserConfig      `yaml:"parser" mapstructure:"parser"`
	OCR         OCRConfig         `yaml:"ocr" mapstructure:"ocr"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Embedding   EmbeddingConfig   `yaml:"embedding" mapstructure:"embedding"`
	Hierarchy   HierarchyConfig   `yaml:"hierarchy" mapstructure:"hierarchy"`
	Extract     ExtractConfig     `yaml:"extract" mapstructure:"extract"`
	Dedupe      DedupeConfig      `yaml:"dedupe" mapstructure:"dedupe"`
	Relations   RelationsConfig   `yaml:"relations" mapstructure:"relations"`
	Pricing     PricingConfig     `yaml:"pricing" mapstructure:"pricing"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence collaborator.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres, memory
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	// Path of the SQLite file backing the persistent tier; empty disables it.
	Path         string `yaml:"path" mapstructure:"path"`
	TTLHours     int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	MaxSizeBytes int64  `yaml:"max_size_bytes" mapstructure:"max_size_bytes"`
}

// RetryConfig configures the stage retry helper.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	MaxTotalBackoffMs int     `yaml:"max_total_backoff_ms" mapstructure:"max_total_backoff_ms"`
	Multiplier        float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction    float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-service circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// RateLimitConfig configures per-service token buckets (requests per second).
type RateLimitConfig struct {
	OCR       float64 `yaml:"ocr" mapstructure:"ocr"`
	Layout    float64 `yaml:"layout" mapstructure:"layout"`
	Anthropic float64 `yaml:"anthropic" mapstructure:"anthropic"`
	Embedding float64 `yaml:"embedding" mapstructure:"embedding"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// FingerprintConfig configures content hashing.
type FingerprintConfig struct {
	ChunkSizeBytes int `yaml:"chunk_size_bytes" mapstructure:"chunk_size_bytes"`
}

// DocTypeConfig configures document type detection.
type DocTypeConfig struct {
	MinTextChars int `yaml:"min_text_chars" mapstructure:"min_text_chars"`
}

// ParserConfig configures the parse fallback chain.
type ParserConfig struct {
	PrimaryThreshold   float64 `yaml:"primary_threshold" mapstructure:"primary_threshold"`
	SecondaryThreshold float64 `yaml:"secondary_threshold" mapstructure:"secondary_threshold"`
	MethodTimeoutSecs  int     `yaml:"method_timeout_secs" mapstructure:"method_timeout_secs"`
}

// OCRConfig configures the markdown and layout OCR services.
type OCRConfig struct {
	MistralKey   string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel string `yaml:"mistral_model" mapstructure:"mistral_model"`
	MistralURL   string `yaml:"mistral_url" mapstructure:"mistral_url"`
	LayoutURL    string `yaml:"layout_url" mapstructure:"layout_url"`
	LayoutKey    string `yaml:"layout_api_key" mapstructure:"layout_api_key"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// HierarchyConfig configures hierarchy extraction.
type HierarchyConfig struct {
	PagesPerChapter int `yaml:"pages_per_chapter" mapstructure:"pages_per_chapter"`
}

// ExtractConfig configures ensemble concept extraction.
type ExtractConfig struct {
	TopN           int  `yaml:"top_n" mapstructure:"top_n"`
	MaxNgram       int  `yaml:"max_ngram" mapstructure:"max_ngram"`
	UseLLMDefiner  bool `yaml:"use_llm_definer" mapstructure:"use_llm_definer"`
	MaxPromptChars int  `yaml:"max_prompt_chars" mapstructure:"max_prompt_chars"`
}

// DedupeConfig configures concept deduplication.
type DedupeConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	AutoMerge bool    `yaml:"auto_merge" mapstructure:"auto_merge"`
}

// RelationsConfig configures relationship classification.
type RelationsConfig struct {
	PatternsFile   string `yaml:"patterns_file" mapstructure:"patterns_file"`
	UseValidator   bool   `yaml:"use_validator" mapstructure:"use_validator"`
	MaxPageGap     int    `yaml:"max_page_gap" mapstructure:"max_page_gap"`
	MaxValidations int    `yaml:"max_validations" mapstructure:"max_validations"`
}

// PricingConfig holds per-stage pricing rates in USD.
type PricingConfig struct {
	OCRPerPage             float64 `yaml:"ocr_per_page" mapstructure:"ocr_per_page"`
	ExtractionPerMTok      float64 `yaml:"extraction_per_mtok" mapstructure:"extraction_per_mtok"`
	EmbeddingPerMTok       float64 `yaml:"embedding_per_mtok" mapstructure:"embedding_per_mtok"`
	StoragePerDocument     float64 `yaml:"storage_per_document" mapstructure:"storage_per_document"`
	TokensPerPage          int     `yaml:"tokens_per_page" mapstructure:"tokens_per_page"`
	DailyAlertThresholdUSD float64 `yaml:"daily_alert_threshold_usd" mapstructure:"daily_alert_threshold_usd"`
}

// MonitoringConfig configures health checks and alert delivery.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// BatchConfig configures multi-document processing.
type BatchConfig struct {
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
}

// ServerConfig configures the operational HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads ./config.yaml, if present, and the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. Unlike ./config.yaml, an
// explicit file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	v.SetEnvPrefix("DOCGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that settings required by the given command mode are
// present and in range. Modes: process, batch, serve.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "process", "batch":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of sqlite, postgres, memory", c.Store.Driver))
	}

	if n := c.Batch.MaxConcurrentDocuments; n < 1 || n > 64 {
		problems = append(problems, "batch.max_concurrent_documents must be between 1 and 64")
	}
	if c.Dedupe.Threshold < 0 || c.Dedupe.Threshold > 1 {
		problems = append(problems, "dedupe.threshold must be in [0, 1]")
	}
	if c.Parser.PrimaryThreshold < 0 || c.Parser.PrimaryThreshold > 1 ||
		c.Parser.SecondaryThreshold < 0 || c.Parser.SecondaryThreshold > 1 {
		problems = append(problems, "parser thresholds must be in [0, 1]")
	}
	if c.Extract.TopN < 1 {
		problems = append(problems, "extract.top_n must be >= 1")
	}
	if c.Pricing.OCRPerPage < 0 || c.Pricing.ExtractionPerMTok < 0 ||
		c.Pricing.EmbeddingPerMTok < 0 || c.Pricing.StoragePerDocument < 0 {
		problems = append(problems, "pricing values must be >= 0")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "docgraph.db")
	v.SetDefault("cache.path", "docgraph-cache.db")
	v.SetDefault("cache.ttl_hours", 24*30)
	v.SetDefault("cache.max_size_bytes", 512<<20)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.max_total_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("rate_limit.ocr", 2.0)
	v.SetDefault("rate_limit.layout", 2.0)
	v.SetDefault("rate_limit.anthropic", 5.0)
	v.SetDefault("rate_limit.embedding", 10.0)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("fingerprint.chunk_size_bytes", 64*1024)
	v.SetDefault("doctype.min_text_chars", 50)
	v.SetDefault("parser.primary_threshold", 0.8)
	v.SetDefault("parser.secondary_threshold", 0.6)
	v.SetDefault("parser.method_timeout_secs", 300)
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.mistral_url", "https://api.mistral.ai/v1/ocr")
	v.SetDefault("ocr.timeout_secs", 120)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("embedding.base_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("hierarchy.pages_per_chapter", 10)
	v.SetDefault("extract.top_n", 30)
	v.SetDefault("extract.max_ngram", 3)
	v.SetDefault("extract.use_llm_definer", true)
	v.SetDefault("extract.max_prompt_chars", 60000)
	v.SetDefault("dedupe.threshold", 0.85)
	v.SetDefault("dedupe.auto_merge", true)
	v.SetDefault("relations.use_validator", true)
	v.SetDefault("relations.max_page_gap", 1)
	v.SetDefault("relations.max_validations", 50)
	v.SetDefault("pricing.ocr_per_page", 0.001)
	v.SetDefault("pricing.extraction_per_mtok", 0.80)
	v.SetDefault("pricing.embedding_per_mtok", 0.02)
	v.SetDefault("pricing.storage_per_document", 0.0001)
	v.SetDefault("pricing.tokens_per_page", 500)
	v.SetDefault("pricing.daily_alert_threshold_usd", 10.0)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 10.0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("batch.max_concurrent_documents", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
