package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/guardrail"
	"github.com/p-blackswan/crewflow/internal/project"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero value", func(c *Config) { *c = Config{} }, true},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, false},
		{"negative ceiling", func(c *Config) { c.StepCeiling = -5 }, false},
		{"negative timeout", func(c *Config) { c.DefaultPhaseTimeout = -time.Second }, false},
		{"negative memory limit", func(c *Config) { c.MemoryQueryLimit = -1 }, false},
		{"negative phase timeout", func(c *Config) {
			c.PhaseTimeouts = map[project.Phase]time.Duration{project.PhaseTesting: -1}
		}, false},
		{"timeout for terminal phase", func(c *Config) {
			c.PhaseTimeouts = map[project.Phase]time.Duration{project.PhaseDone: time.Second}
		}, false},
		{"unknown layer", func(c *Config) {
			c.LayerModes = map[guardrail.Layer]guardrail.Mode{"network": guardrail.ModeAdvisory}
		}, false},
		{"unknown mode", func(c *Config) {
			c.LayerModes = map[guardrail.Layer]guardrail.Mode{guardrail.LayerQuality: "quiet"}
		}, false},
		{"context for unknown phase", func(c *Config) {
			c.Contexts = map[project.Phase]guardrail.Context{"review": {}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, 0, c.MaxRetries)
	assert.Equal(t, DefaultStepCeiling, c.StepCeiling)
	assert.Equal(t, DefaultPhaseTimeout, c.DefaultPhaseTimeout)
	assert.Equal(t, DefaultMemoryQueryLimit, c.MemoryQueryLimit)
}

func TestConfig_TimeoutFor(t *testing.T) {
	c := Config{
		DefaultPhaseTimeout: time.Minute,
		PhaseTimeouts:       map[project.Phase]time.Duration{project.PhaseTesting: 5 * time.Second},
	}
	assert.Equal(t, 5*time.Second, c.TimeoutFor(project.PhaseTesting))
	assert.Equal(t, time.Minute, c.TimeoutFor(project.PhasePlanning))
	assert.Equal(t, DefaultPhaseTimeout, Config{}.TimeoutFor(project.PhasePlanning))
}

func TestConfig_ContextFor(t *testing.T) {
	c := Config{Contexts: map[project.Phase]guardrail.Context{
		project.PhaseDevelopment: {Role: "developer", TopicKeywords: []string{"cli"}},
	}}
	s := project.New("build a CLI")
	s.MoveTo(project.PhaseDevelopment, "architecture accepted", time.Now())

	gc := c.contextFor(s)
	assert.Equal(t, "development", gc.Phase)
	assert.Equal(t, "developer", gc.Role)
	assert.Equal(t, "build a CLI", gc.Task)
	assert.Equal(t, []string{"files"}, gc.ExpectedFields)

	// An explicit empty list disables the default.
	c.Contexts[project.PhaseDevelopment] = guardrail.Context{ExpectedFields: []string{}}
	assert.Empty(t, c.contextFor(s).ExpectedFields)
}
