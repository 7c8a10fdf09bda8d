/**
 * Configuration for the OCR worker
 *
 * Loads configuration from defaults, an optional ocr-worker.yaml, a .env file
 * and OCR_-prefixed environment variables (OCR_ENGINES_TIMEOUT, ...).
 */

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds worker configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Engines EnginesConfig `mapstructure:"engines"`
	Layout  LayoutConfig  `mapstructure:"layout"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig contains the HTTP surface settings
type ServerConfig struct {
	Address        string `mapstructure:"address"`
	BodyLimitMB    int    `mapstructure:"body_limit_mb"`
	MaxImagePixels int    `mapstructure:"max_image_pixels"` // width*height cap on decoded uploads
}

// RedisConfig contains the Redis connection used by both consumers
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// QueueConfig contains background recognition settings
type QueueConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Name              string        `mapstructure:"name"`
	Concurrency       int           `mapstructure:"concurrency"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	ResultTTL         time.Duration `mapstructure:"result_ttl"`
}

// EnginesConfig contains per-engine backend settings
type EnginesConfig struct {
	Timeout   time.Duration   `mapstructure:"timeout"`
	Tesseract TesseractConfig `mapstructure:"tesseract"`
	Span      SpanConfig      `mapstructure:"span"`
	Seq2Seq   Seq2SeqConfig   `mapstructure:"seq2seq"`
}

// TesseractConfig configures the block-text engine
type TesseractConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Languages string `mapstructure:"languages"`
}

// SpanConfig configures the span detector engine
type SpanConfig struct {
	Enabled               bool    `mapstructure:"enabled"`
	Backend               string  `mapstructure:"backend"` // "sidecar" or "tesseract"
	URL                   string  `mapstructure:"url"`
	Languages             string  `mapstructure:"languages"`
	EnhancedMinConfidence float64 `mapstructure:"enhanced_min_confidence"`
	StandardMinConfidence float64 `mapstructure:"standard_min_confidence"`
}

// Seq2SeqConfig configures the vision sequence-to-sequence engine
type Seq2SeqConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Backend      string `mapstructure:"backend"` // "sidecar" or "gemini"
	URL          string `mapstructure:"url"`
	Model        string `mapstructure:"model"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	GeminiModel  string `mapstructure:"gemini_model"`
}

// LayoutConfig contains reading-order assembly settings
type LayoutConfig struct {
	LineThreshold float64 `mapstructure:"line_threshold"`
}

// BatchConfig contains batch admission settings
type BatchConfig struct {
	MaxImages     int `mapstructure:"max_images"`
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig contains OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"` // OTLP gRPC endpoint
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// LoadConfig loads configuration from file, .env and environment variables
func LoadConfig() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("ocr-worker")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ocr-worker/")

	if path := os.Getenv("OCR_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("OCR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env without overriding variables already set
func loadEnvFile() {
	path := os.Getenv("OCR_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.body_limit_mb", 20)
	v.SetDefault("server.max_image_pixels", 40_000_000)

	v.SetDefault("redis.url", "redis://localhost:6379")

	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.name", "ocr:jobs")
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.processing_timeout", "5m")
	v.SetDefault("queue.result_ttl", "24h")

	v.SetDefault("engines.timeout", "60s")
	v.SetDefault("engines.tesseract.enabled", true)
	v.SetDefault("engines.tesseract.languages", "eng")
	v.SetDefault("engines.span.enabled", true)
	v.SetDefault("engines.span.backend", "sidecar")
	v.SetDefault("engines.span.url", "http://localhost:8101")
	v.SetDefault("engines.span.languages", "en")
	v.SetDefault("engines.span.enhanced_min_confidence", 0.2)
	v.SetDefault("engines.span.standard_min_confidence", 0.3)
	v.SetDefault("engines.seq2seq.enabled", true)
	v.SetDefault("engines.seq2seq.backend", "sidecar")
	v.SetDefault("engines.seq2seq.url", "http://localhost:8102")
	v.SetDefault("engines.seq2seq.model", "microsoft/trocr-base-printed")
	v.SetDefault("engines.seq2seq.gemini_api_key", "")
	v.SetDefault("engines.seq2seq.gemini_model", "gemini-1.5-flash")

	v.SetDefault("layout.line_threshold", 20.0)

	v.SetDefault("batch.max_images", 10)
	v.SetDefault("batch.max_concurrent", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "ocr-worker")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	if c.Server.BodyLimitMB < 1 || c.Server.BodyLimitMB > 200 {
		return fmt.Errorf("server.body_limit_mb must be between 1 and 200, got %d", c.Server.BodyLimitMB)
	}

	if c.Server.MaxImagePixels < 1 {
		return fmt.Errorf("server.max_image_pixels must be positive, got %d", c.Server.MaxImagePixels)
	}

	if c.Queue.Enabled {
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required when the queue is enabled")
		}
		if c.Queue.Name == "" {
			return fmt.Errorf("queue.name is required when the queue is enabled")
		}
		if c.Queue.Concurrency < 1 || c.Queue.Concurrency > 100 {
			return fmt.Errorf("queue.concurrency must be between 1 and 100, got %d", c.Queue.Concurrency)
		}
	}

	if c.Engines.Timeout <= 0 {
		return fmt.Errorf("engines.timeout must be positive, got %v", c.Engines.Timeout)
	}

	if err := validateUnit("engines.span.enhanced_min_confidence", c.Engines.Span.EnhancedMinConfidence); err != nil {
		return err
	}
	if err := validateUnit("engines.span.standard_min_confidence", c.Engines.Span.StandardMinConfidence); err != nil {
		return err
	}

	switch c.Engines.Span.Backend {
	case "sidecar", "tesseract":
	default:
		return fmt.Errorf("engines.span.backend must be sidecar or tesseract, got %q", c.Engines.Span.Backend)
	}

	switch c.Engines.Seq2Seq.Backend {
	case "sidecar", "gemini":
	default:
		return fmt.Errorf("engines.seq2seq.backend must be sidecar or gemini, got %q", c.Engines.Seq2Seq.Backend)
	}

	if c.Layout.LineThreshold <= 0 {
		return fmt.Errorf("layout.line_threshold must be positive, got %v", c.Layout.LineThreshold)
	}

	if c.Batch.MaxImages < 1 || c.Batch.MaxImages > 100 {
		return fmt.Errorf("batch.max_images must be between 1 and 100, got %d", c.Batch.MaxImages)
	}

	if c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > c.Batch.MaxImages {
		return fmt.Errorf("batch.max_concurrent must be between 1 and %d, got %d", c.Batch.MaxImages, c.Batch.MaxConcurrent)
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
		}
		if err := validateUnit("tracing.sample_rate", c.Tracing.SampleRate); err != nil {
			return err
		}
	}

	return nil
}

func validateUnit(key string, value float64) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %v", key, value)
	}
	return nil
}
