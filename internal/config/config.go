/**
 * Configuration for the Label Verification Worker
 *
 * Loads configuration from environment variables matching .env.labelverify.
 * Comparison thresholds live in a separate TOML policy file (see policy.go).
 */

package config

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// OCR engine identifiers
const (
	EngineTesseract = "tesseract"
	EngineVision    = "vision"
)

// Config holds worker configuration
type Config struct {
	// Redis / queue configuration
	RedisURL          string
	QueueName         string
	WorkerConcurrency int

	// Batch configuration
	BatchConcurrency  int
	MaxBatchPairs     int
	BatchTimeBudgetMs int
	MaxArchiveBytes   int64
	ThumbnailMaxDim   int

	// Timeouts
	ProcessingTimeout    int // milliseconds, whole task
	OCRTimeoutMs         int // milliseconds, one OCR attempt
	ResultRetentionHours int

	// OCR configuration
	OCREngine      string
	OCRLanguage    string
	TessdataPrefix string
	VisionOCRURL   string
	MaxImagePixels int

	// Comparison policy
	PolicyFile string

	// Result cache
	ResultCacheEnabled    bool
	ResultCacheTTLSeconds int

	// Logging / transport
	LogLevel  string
	LogFormat string
	HTTPAddr  string

	// Deployment environment
	AppEnv string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:              getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueName:             getEnvOrDefault("QUEUE_NAME", "labelverify"),
		WorkerConcurrency:     getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		BatchConcurrency:      getEnvAsIntOrDefault("BATCH_CONCURRENCY", runtime.NumCPU()),
		MaxBatchPairs:         getEnvAsIntOrDefault("MAX_BATCH_PAIRS", 500),
		BatchTimeBudgetMs:     getEnvAsIntOrDefault("BATCH_TIME_BUDGET_MS", 0), // 0 = no budget
		MaxArchiveBytes:       getEnvAsInt64OrDefault("MAX_ARCHIVE_BYTES", 256<<20),
		ThumbnailMaxDim:       getEnvAsIntOrDefault("THUMBNAIL_MAX_DIM", 220),
		ProcessingTimeout:     getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		OCRTimeoutMs:          getEnvAsIntOrDefault("OCR_TIMEOUT_MS", 30000),
		ResultRetentionHours:  getEnvAsIntOrDefault("RESULT_RETENTION_HOURS", 24),
		OCREngine:             strings.ToLower(getEnvOrDefault("OCR_ENGINE", EngineTesseract)),
		OCRLanguage:           getEnvOrDefault("OCR_LANG", "eng"),
		TessdataPrefix:        getEnvOrDefault("TESSDATA_PREFIX", ""),
		VisionOCRURL:          getEnvOrDefault("VISION_OCR_URL", ""),
		MaxImagePixels:        getEnvAsIntOrDefault("MAX_IMAGE_PIXELS", 6000000),
		PolicyFile:            getEnvOrDefault("POLICY_FILE", ""),
		ResultCacheEnabled:    getEnvAsBoolOrDefault("RESULT_CACHE_ENABLED", false),
		ResultCacheTTLSeconds: getEnvAsIntOrDefault("RESULT_CACHE_TTL_SECONDS", 3600),
		LogLevel:              getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:             getEnvOrDefault("LOG_FORMAT", "text"),
		HTTPAddr:              getEnvOrDefault("HTTP_ADDR", ":8000"),
		AppEnv:                getEnvOrDefault("APP_ENV", "development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.BatchConcurrency < 1 || c.BatchConcurrency > 256 {
		return fmt.Errorf("BATCH_CONCURRENCY must be between 1 and 256, got %d", c.BatchConcurrency)
	}

	if c.MaxBatchPairs < 1 {
		return fmt.Errorf("MAX_BATCH_PAIRS must be positive, got %d", c.MaxBatchPairs)
	}

	if c.BatchTimeBudgetMs < 0 {
		return fmt.Errorf("BATCH_TIME_BUDGET_MS must not be negative, got %d", c.BatchTimeBudgetMs)
	}

	if c.MaxArchiveBytes < 1024 || c.MaxArchiveBytes > 4<<30 { // 1KB to 4GB
		return fmt.Errorf("MAX_ARCHIVE_BYTES must be between 1KB and 4GB, got %d", c.MaxArchiveBytes)
	}

	if c.ThumbnailMaxDim < 16 || c.ThumbnailMaxDim > 2048 {
		return fmt.Errorf("THUMBNAIL_MAX_DIM must be between 16 and 2048, got %d", c.ThumbnailMaxDim)
	}

	if c.OCRTimeoutMs < 100 {
		return fmt.Errorf("OCR_TIMEOUT_MS must be at least 100, got %d", c.OCRTimeoutMs)
	}

	if c.ProcessingTimeout < c.OCRTimeoutMs {
		return fmt.Errorf("PROCESSING_TIMEOUT (%d) must not be shorter than OCR_TIMEOUT_MS (%d)",
			c.ProcessingTimeout, c.OCRTimeoutMs)
	}

	switch c.OCREngine {
	case EngineTesseract:
	case EngineVision:
		if c.VisionOCRURL == "" {
			return fmt.Errorf("VISION_OCR_URL is required when OCR_ENGINE=%s", EngineVision)
		}
	default:
		return fmt.Errorf("OCR_ENGINE must be %q or %q, got %q", EngineTesseract, EngineVision, c.OCREngine)
	}

	if c.MaxImagePixels < 10000 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be at least 10000, got %d", c.MaxImagePixels)
	}

	return nil
}

// ValidateQueue checks the settings only the queue-backed binaries need
func (c *Config) ValidateQueue() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}
	return nil
}

// getEnvOrDefault gets environment variable or returns default
// RedactedRedisURL returns RedisURL with any password masked, for logging
func (c *Config) RedactedRedisURL() string {
	u, err := url.Parse(c.RedisURL)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
