// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8000"`
	// WorkDir is where uploaded documents live until their deferred cleanup.
	WorkDir string `env:"WORK_DIR" envDefault:"/tmp/biodata-screener"`
	// PublicBaseURL overrides the scheme+host used for download links.
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	OllamaURL     string        `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	DefaultModel  string        `env:"DEFAULT_MODEL" envDefault:"mistral"`
	GeminiAPIKey  string        `env:"GEMINI_API_KEY"`
	GeminiBaseURL string        `env:"GEMINI_BASE_URL"`
	LLMTimeout    time.Duration `env:"LLM_TIMEOUT" envDefault:"180s"`
	// Sampling options favour determinism over creativity.
	LLMTemperature float64 `env:"LLM_TEMPERATURE" envDefault:"0.1"`
	LLMNumPredict  int     `env:"LLM_NUM_PREDICT" envDefault:"512"`
	LLMTopP        float64 `env:"LLM_TOP_P" envDefault:"0.9"`
	LLMTopK        int     `env:"LLM_TOP_K" envDefault:"10"`
	// LLMMaxRPS paces outbound inference calls per process; 0 disables pacing.
	LLMMaxRPS         float64 `env:"LLM_MAX_RPS" envDefault:"0"`
	ConditionMaxChars int     `env:"CONDITION_MAX_CHARS" envDefault:"3000"`
	PromptsFile       string  `env:"PROMPTS_FILE"`

	// TikaURL specifies the base URL for the Apache Tika server used for text extraction
	TikaURL             string        `env:"TIKA_URL" envDefault:"http://localhost:9998"`
	TikaRetryMaxElapsed time.Duration `env:"TIKA_RETRY_MAX_ELAPSED" envDefault:"20s"`

	// MaxWorkers caps the per-batch worker pool; the inference backend is the bottleneck.
	MaxWorkers     int           `env:"MAX_WORKERS" envDefault:"4"`
	CleanupDelay   time.Duration `env:"CLEANUP_DELAY" envDefault:"1000s"`
	CleanupBackend string        `env:"CLEANUP_BACKEND" envDefault:"timer"`
	RedisURL       string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"10s"`

	// DBURL enables the Postgres verdict store when set.
	DBURL                string        `env:"DB_URL"`
	VerdictRetentionDays int           `env:"VERDICT_RETENTION_DAYS" envDefault:"30"`
	CleanupInterval      time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`

	// KafkaBrokers enables batch verdict events when set.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"batch-verdicts"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"biodata-screener"`

	MaxUploadMB           int64         `env:"MAX_UPLOAD_MB" envDefault:"50"`
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	RequestTimeout        time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15m"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"60s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"16m"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be >= 1, got %d", c.MaxWorkers)
	}
	if c.CleanupDelay < 0 {
		return fmt.Errorf("CLEANUP_DELAY must not be negative")
	}
	switch c.CleanupBackend {
	case "timer", "redis":
	default:
		return fmt.Errorf("CLEANUP_BACKEND must be timer or redis, got %q", c.CleanupBackend)
	}
	if c.WorkDir == "" {
		return fmt.Errorf("WORK_DIR must be set")
	}
	return nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// ConditionPrefixChars returns the condition prompt text budget, never below 3000.
func (c Config) ConditionPrefixChars() int {
	if c.ConditionMaxChars < 3000 {
		return 3000
	}
	return c.ConditionMaxChars
}

// SamplingOptions returns the inference options sent with every prompt.
func (c Config) SamplingOptions() domain.SamplingOptions {
	return domain.SamplingOptions{
		Temperature: c.LLMTemperature,
		MaxTokens:   c.LLMNumPredict,
		TopP:        c.LLMTopP,
		TopK:        c.LLMTopK,
	}
}

// GetTikaBackoffConfig returns retry timings for the Tika extractor.
// In test environments, uses much shorter timeouts for faster test execution.
func (c Config) GetTikaBackoffConfig() (maxElapsedTime, initialInterval time.Duration) {
	if c.IsTest() {
		return 2 * time.Second, 50 * time.Millisecond
	}
	return c.TikaRetryMaxElapsed, 500 * time.Millisecond
}
