// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Run orchestration settings.
	OutputDir       string        // Base directory for per-run artifact folders.
	Retention       time.Duration // How long completed runs stay queryable.
	TaskConcurrency int           // Parallel table tasks during execution.
	DebateRounds    int           // Default planning debate rounds when the request omits them.
	FirstMover      string        // Debate role that opens odd rounds: "alpha" or "beta".

	// Source database settings.
	SourceDSN string // Postgres DSN for schema discovery. Empty disables live introspection.

	// Model provider settings (Azure OpenAI compatible).
	AzureBaseURL    string
	AzureAPIKey     string
	AzureAPIVersion string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Rate limiting.
	RateLimitRPS   float64 // Sustained requests per second per client IP. 0 disables.
	RateLimitBurst int

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("SNOWFLOW_PORT", 8080),
		ReadTimeout:         envDuration("SNOWFLOW_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("SNOWFLOW_WRITE_TIMEOUT", 0),
		OutputDir:           envStr("SNOWFLOW_OUTPUT_DIR", "output"),
		Retention:           envDuration("SNOWFLOW_RETENTION", time.Hour),
		TaskConcurrency:     envInt("SNOWFLOW_TASK_CONCURRENCY", 1),
		DebateRounds:        envInt("SNOWFLOW_DEBATE_ROUNDS", 2),
		FirstMover:          envStr("SNOWFLOW_FIRST_MOVER", "alpha"),
		SourceDSN:           envStr("SNOWFLOW_SOURCE_DSN", ""),
		AzureBaseURL:        envStr("AZURE_OPENAI_ENDPOINT", ""),
		AzureAPIKey:         envStr("AZURE_OPENAI_API_KEY", ""),
		AzureAPIVersion:     envStr("AZURE_OPENAI_API_VERSION", "2024-12-01-preview"),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "snowflow"),
		RateLimitRPS:        envFloat("SNOWFLOW_RATE_LIMIT_RPS", 0),
		RateLimitBurst:      envInt("SNOWFLOW_RATE_LIMIT_BURST", 20),
		LogLevel:            envStr("SNOWFLOW_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("SNOWFLOW_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: SNOWFLOW_PORT must be in 1..65535")
	}
	if c.TaskConcurrency <= 0 {
		return fmt.Errorf("config: SNOWFLOW_TASK_CONCURRENCY must be positive")
	}
	if c.DebateRounds <= 0 {
		return fmt.Errorf("config: SNOWFLOW_DEBATE_ROUNDS must be positive")
	}
	if c.FirstMover != "alpha" && c.FirstMover != "beta" {
		return fmt.Errorf("config: SNOWFLOW_FIRST_MOVER must be %q or %q", "alpha", "beta")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("config: SNOWFLOW_RETENTION must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: SNOWFLOW_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.AzureBaseURL != "" && c.AzureAPIKey == "" {
		return fmt.Errorf("config: AZURE_OPENAI_API_KEY is required when AZURE_OPENAI_ENDPOINT is set")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
