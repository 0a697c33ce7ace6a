package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithPrefix("CREWFLOW_TEST_DEFAULTS")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "crewflow.db", cfg.DBPath)
	assert.Equal(t, "sqlite", cfg.MemoryBackend)
	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, AuthAPIKey, cfg.AuthMode)
	assert.Equal(t, 100, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 32, cfg.StepCeiling)
	assert.Equal(t, 10*time.Minute, cfg.PhaseTimeout)
	assert.Equal(t, 168*time.Hour, cfg.ProjectRetention)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("CREWFLOW_LISTEN_ADDR", ":9999")
	t.Setenv("CREWFLOW_AUTH_MODE", "none")
	t.Setenv("CREWFLOW_MAX_RETRIES", "0")
	t.Setenv("CREWFLOW_PHASE_TIMEOUT", "90s")
	t.Setenv("CREWFLOW_API_KEYS", " a , b ,,")
	t.Setenv("CREWFLOW_SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("CREWFLOW_SLACK_CHANNEL", "C123")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, AuthNone, cfg.AuthMode)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.PhaseTimeout)
	assert.Equal(t, []string{"a", "b"}, cfg.APIKeyList())
	assert.True(t, cfg.SlackEnabled())

	oc := cfg.OrchestratorConfig()
	assert.Equal(t, 0, oc.MaxRetries)
	assert.Equal(t, 90*time.Second, oc.DefaultPhaseTimeout)
}

func TestLoad_BadValue(t *testing.T) {
	t.Setenv("CREWFLOW_WORKERS", "many")
	_, err := Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadWithPrefix("CREWFLOW_TEST_VALIDATE")
		require.NoError(t, err)
		cfg.APIKeys = "k1"
		return cfg
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"api-key without keys", func(c *Config) { c.APIKeys = "" }},
		{"jwt without secret", func(c *Config) { c.AuthMode = AuthJWT }},
		{"jwt short secret", func(c *Config) {
			c.AuthMode = AuthJWT
			c.JWTSecret = "short"
		}},
		{"unknown auth", func(c *Config) { c.AuthMode = "oauth" }},
		{"unknown memory", func(c *Config) { c.MemoryBackend = "redis" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"no queue", func(c *Config) { c.QueueSize = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), apperrors.ErrInvalidConfig)
		})
	}

	jwt := base()
	jwt.AuthMode = AuthJWT
	jwt.JWTSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, jwt.Validate())

	none := base()
	none.AuthMode = AuthNone
	none.APIKeys = ""
	assert.NoError(t, none.Validate())
}

func TestConfig_ValidateRunIgnoresAuth(t *testing.T) {
	cfg, err := LoadWithPrefix("CREWFLOW_TEST_VALIDATE_RUN")
	require.NoError(t, err)
	require.Empty(t, cfg.APIKeys)

	assert.ErrorIs(t, cfg.Validate(), apperrors.ErrInvalidConfig)
	assert.NoError(t, cfg.ValidateRun())

	cfg.MemoryBackend = "redis"
	assert.ErrorIs(t, cfg.ValidateRun(), apperrors.ErrInvalidConfig)
}

func TestConfig_Lists(t *testing.T) {
	cfg := &Config{CORSOrigins: "https://a.example, https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOriginList())
	assert.Nil(t, cfg.APIKeyList())
	assert.False(t, cfg.SlackEnabled())
}
