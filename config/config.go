// Package config reads process configuration from environment variables.
// In development it loads a .env file if present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Platform connection
	GatewayURL   string
	PostEndpoint string
	PostToken    string

	// Model provider
	AnthropicKey string
	Model        string

	// Embeddings
	OpenAIKey      string
	EmbeddingModel string

	// Memory store
	StorePath string

	// Prompt assembly
	TokenBudget int
	CandidateK  int

	// Extraction chunking
	ChunkTokens  int
	ChunkOverlap int

	// Model retry and rate limiting
	MaxAttempts int
	BackoffBase time.Duration
	RateLimit   float64
	RateBurst   int
	MaxWait     time.Duration
}

// Load reads configuration from the environment. Required variables that
// are missing produce an error rather than a partial config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		GatewayURL:     os.Getenv("GATEWAY_URL"),
		PostEndpoint:   os.Getenv("POST_ENDPOINT"),
		PostToken:      os.Getenv("POST_TOKEN"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		Model:          getEnv("MODEL", "claude-sonnet-4-20250514"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		StorePath:      getEnv("STORE_PATH", ""),
		TokenBudget:    getEnvInt("TOKEN_BUDGET", 3000),
		CandidateK:     getEnvInt("CANDIDATE_K", 8),
		ChunkTokens:    getEnvInt("CHUNK_TOKENS", 512),
		ChunkOverlap:   getEnvInt("CHUNK_OVERLAP", 64),
		MaxAttempts:    getEnvInt("MAX_ATTEMPTS", 3),
		BackoffBase:    getEnvDuration("BACKOFF_BASE", time.Second),
		RateLimit:      getEnvFloat("RATE_LIMIT", 1),
		RateBurst:      getEnvInt("RATE_BURST", 3),
		MaxWait:        getEnvDuration("MAX_LIMITER_WAIT", 30*time.Second),
	}

	if cfg.AnthropicKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if cfg.Env == "production" {
		if cfg.GatewayURL == "" {
			return nil, fmt.Errorf("GATEWAY_URL is required in production")
		}
		if cfg.PostEndpoint == "" || cfg.PostToken == "" {
			return nil, fmt.Errorf("POST_ENDPOINT and POST_TOKEN are required in production")
		}
		// Without the key the process would silently fall back to the
		// deterministic test embedder.
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required in production")
		}
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
