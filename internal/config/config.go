// Package config provides environment configuration for the relay server.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/capitalize-ai/livechat-relay/internal/middleware"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `env:"PORT" envDefault:"8080"`
	ServerReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	ServerWriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`

	// Persistence. Empty DatabaseURL selects the in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`

	// Presence. Empty RedisURL disables presence tracking.
	RedisURL    string        `env:"REDIS_URL"`
	PresenceTTL time.Duration `env:"PRESENCE_TTL" envDefault:"2m"`

	// NATS journal. Empty NATSURL disables journaling.
	NATSURL      string `env:"NATS_URL"`
	NATSCAFile   string `env:"NATS_CA_FILE"`
	NATSCertFile string `env:"NATS_CERT_FILE"`
	NATSKeyFile  string `env:"NATS_KEY_FILE"`
	NATSToken    string `env:"NATS_TOKEN"`

	// JWT settings
	JWTSecret string `env:"JWT_SECRET" envDefault:"development-secret-change-in-production"`

	// Relay settings
	VerifyAuthToken bool          `env:"RELAY_VERIFY_AUTH_TOKEN" envDefault:"false"`
	SendBuffer      int           `env:"RELAY_SEND_BUFFER" envDefault:"256"`
	MaxFrameBytes   int64         `env:"RELAY_MAX_FRAME_BYTES" envDefault:"131072"`
	PersistTimeout  time.Duration `env:"RELAY_PERSIST_TIMEOUT" envDefault:"0s"`
	AllowedOrigins  []string      `env:"RELAY_ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://*,http://*"`

	// Rate limiting
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// Bot auto-reply
	AutoReplyEnabled bool   `env:"AUTO_REPLY_ENABLED" envDefault:"false"`
	LLMProvider      string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	LLMModel         string `env:"LLM_MODEL"`
	BotSystemPrompt  string `env:"BOT_SYSTEM_PROMPT" envDefault:"You are a helpful customer support assistant."`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Tracing
	TracingEndpoint string `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	TracingEnabled  bool   `env:"TRACING_ENABLED" envDefault:"false"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	if c.SendBuffer <= 0 {
		return errors.New("RELAY_SEND_BUFFER must be positive")
	}
	if c.MaxFrameBytes < middleware.MaxContentBytes+middleware.MaxFrameOverhead {
		return fmt.Errorf("RELAY_MAX_FRAME_BYTES must be at least %d to carry maximum-size messages",
			middleware.MaxContentBytes+middleware.MaxFrameOverhead)
	}
	if c.PresenceTTL < time.Second {
		return errors.New("PRESENCE_TTL must be at least 1s")
	}
	if c.PersistTimeout < 0 {
		return errors.New("RELAY_PERSIST_TIMEOUT must not be negative")
	}
	if c.VerifyAuthToken && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required when RELAY_VERIFY_AUTH_TOKEN is set")
	}
	if c.AutoReplyEnabled && c.LLMAPIKey() == "" {
		return fmt.Errorf("AUTO_REPLY_ENABLED requires an API key for LLM_PROVIDER %q", c.LLMProvider)
	}
	return nil
}

// LLMAPIKey returns the API key of the configured LLM provider.
func (c *Config) LLMAPIKey() string {
	switch c.LLMProvider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	default:
		return ""
	}
}
