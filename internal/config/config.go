// Package config loads process configuration from CREWFLOW_* environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/orchestrator"
)

// Prefix is prepended to every variable name.
const Prefix = "CREWFLOW"

// Auth modes for the HTTP API.
const (
	AuthNone   = "none"
	AuthAPIKey = "api-key"
	AuthJWT    = "jwt"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT"` // "json" or "console"; empty picks by environment

	// Storage
	DBPath        string `envconfig:"DB_PATH" default:"crewflow.db"`
	MemoryBackend string `envconfig:"MEMORY_BACKEND" default:"sqlite"` // "sqlite" or "memory"
	MemoryDSN     string `envconfig:"MEMORY_DSN" default:"crewflow-memory.db"`

	// Orchestrator
	PipelineFile     string        `envconfig:"PIPELINE_FILE"`
	MaxRetries       int           `envconfig:"MAX_RETRIES" default:"3"`
	StepCeiling      int           `envconfig:"STEP_CEILING" default:"32"`
	PhaseTimeout     time.Duration `envconfig:"PHASE_TIMEOUT" default:"10m"`
	MemoryQueryLimit int           `envconfig:"MEMORY_QUERY_LIMIT" default:"8"`

	// LLM (optional, only needed by llm crews)
	AnthropicAPIKey    string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel     string `envconfig:"ANTHROPIC_MODEL"`
	AnthropicMaxTokens int    `envconfig:"ANTHROPIC_MAX_TOKENS"`

	// Slack notifications (optional)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel  string `envconfig:"SLACK_CHANNEL"`

	// HTTP API
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8090"`
	AuthMode        string        `envconfig:"AUTH_MODE" default:"api-key"`
	APIKeys         string        `envconfig:"API_KEYS"` // comma-separated
	JWTSecret       string        `envconfig:"JWT_SECRET"`
	JWTIssuer       string        `envconfig:"JWT_ISSUER"`
	RateLimitRPS    int           `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST" default:"200"`
	CORSOrigins     string        `envconfig:"CORS_ORIGINS"`
	Workers         int           `envconfig:"WORKERS" default:"4"`
	QueueSize       int           `envconfig:"QUEUE_SIZE" default:"64"`
	ResultCacheSize int           `envconfig:"RESULT_CACHE_SIZE" default:"256"`
	ResultCacheTTL  time.Duration `envconfig:"RESULT_CACHE_TTL" default:"1h"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// Retention
	RetentionInterval time.Duration `envconfig:"RETENTION_INTERVAL" default:"1h"`
	ProjectRetention  time.Duration `envconfig:"PROJECT_RETENTION" default:"168h"`
	AuditRetention    time.Duration `envconfig:"AUDIT_RETENTION" default:"720h"`
}

// IsDevelopment reports whether the process runs in a dev environment.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// APIKeyList returns the parsed list of accepted API keys.
func (c *Config) APIKeyList() []string {
	return splitList(c.APIKeys)
}

// CORSOriginList returns the parsed list of allowed CORS origins.
func (c *Config) CORSOriginList() []string {
	return splitList(c.CORSOrigins)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks everything the HTTP service needs, including auth.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case AuthNone:
	case AuthAPIKey:
		if len(c.APIKeyList()) == 0 {
			return fmt.Errorf("%w: auth mode api-key needs %s_API_KEYS", apperrors.ErrInvalidConfig, Prefix)
		}
	case AuthJWT:
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("%w: auth mode jwt needs a %s_JWT_SECRET of at least 32 bytes", apperrors.ErrInvalidConfig, Prefix)
		}
	default:
		return fmt.Errorf("%w: unknown auth mode %q", apperrors.ErrInvalidConfig, c.AuthMode)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", apperrors.ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue size must be at least 1", apperrors.ErrInvalidConfig)
	}
	if c.ResultCacheTTL < 0 {
		return fmt.Errorf("%w: result cache ttl must not be negative", apperrors.ErrInvalidConfig)
	}
	return c.ValidateRun()
}

// ValidateRun checks the settings a single in-process run depends on.
func (c *Config) ValidateRun() error {
	switch c.MemoryBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("%w: unknown memory backend %q", apperrors.ErrInvalidConfig, c.MemoryBackend)
	}
	switch c.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", apperrors.ErrInvalidConfig, c.LogFormat)
	}
	return c.OrchestratorConfig().Validate()
}

// OrchestratorConfig converts the run settings.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxRetries:          c.MaxRetries,
		StepCeiling:         c.StepCeiling,
		DefaultPhaseTimeout: c.PhaseTimeout,
		MemoryQueryLimit:    c.MemoryQueryLimit,
	}
}

// Load reads configuration from CREWFLOW_* environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix(Prefix)
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
