package orchestrator

import (
	"fmt"
	"time"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/guardrail"
	"github.com/p-blackswan/crewflow/internal/project"
)

// Fallbacks applied to zero-valued fields.
const (
	DefaultMaxRetries       = 3
	DefaultStepCeiling      = 32
	DefaultPhaseTimeout     = 10 * time.Minute
	DefaultMemoryQueryLimit = 8
)

// Config controls one orchestrator. It is passed explicitly; there is no
// package-level state.
type Config struct {
	// MaxRetries bounds the testing→development loop. Zero is meaningful:
	// every test failure ends the run.
	MaxRetries int

	// StepCeiling bounds the number of Advance calls in one Run.
	StepCeiling int

	PhaseTimeouts       map[project.Phase]time.Duration
	DefaultPhaseTimeout time.Duration

	LayerModes     map[guardrail.Layer]guardrail.Mode
	AdvisoryChecks map[string]bool

	// Contexts holds per-phase guardrail expectations. Phase, Task and
	// ExpectedFields are filled in when left empty.
	Contexts map[project.Phase]guardrail.Context

	MemoryQueryLimit int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          DefaultMaxRetries,
		StepCeiling:         DefaultStepCeiling,
		DefaultPhaseTimeout: DefaultPhaseTimeout,
		MemoryQueryLimit:    DefaultMemoryQueryLimit,
	}
}

// Validate rejects negative bounds and unknown phases, layers or modes.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return invalid("max retries must not be negative, got %d", c.MaxRetries)
	case c.StepCeiling < 0:
		return invalid("step ceiling must not be negative, got %d", c.StepCeiling)
	case c.DefaultPhaseTimeout < 0:
		return invalid("default phase timeout must not be negative, got %s", c.DefaultPhaseTimeout)
	case c.MemoryQueryLimit < 0:
		return invalid("memory query limit must not be negative, got %d", c.MemoryQueryLimit)
	}
	for p, d := range c.PhaseTimeouts {
		if !p.Valid() || p.IsTerminal() {
			return invalid("timeout for unknown phase %q", p)
		}
		if d < 0 {
			return invalid("timeout for %s must not be negative, got %s", p, d)
		}
	}
	for l, m := range c.LayerModes {
		if !l.Valid() {
			return invalid("unknown guardrail layer %q", l)
		}
		if _, err := guardrail.ParseMode(string(m)); err != nil {
			return invalid("%v", err)
		}
	}
	for p := range c.Contexts {
		if !p.Valid() || p.IsTerminal() {
			return invalid("guardrail context for unknown phase %q", p)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// withDefaults fills zero-valued bounds. MaxRetries is left as is.
func (c Config) withDefaults() Config {
	if c.StepCeiling == 0 {
		c.StepCeiling = DefaultStepCeiling
	}
	if c.DefaultPhaseTimeout == 0 {
		c.DefaultPhaseTimeout = DefaultPhaseTimeout
	}
	if c.MemoryQueryLimit == 0 {
		c.MemoryQueryLimit = DefaultMemoryQueryLimit
	}
	return c
}

// TimeoutFor returns the crew timeout for phase.
func (c Config) TimeoutFor(phase project.Phase) time.Duration {
	if d, ok := c.PhaseTimeouts[phase]; ok && d > 0 {
		return d
	}
	if c.DefaultPhaseTimeout > 0 {
		return c.DefaultPhaseTimeout
	}
	return DefaultPhaseTimeout
}

var expectedFields = map[project.Phase][]string{
	project.PhasePlanning:    {"architecture"},
	project.PhaseDevelopment: {"files"},
	project.PhaseTesting:     {"tests"},
	project.PhaseDeployment:  {"deployment"},
}

// contextFor builds the guardrail context for one step.
func (c Config) contextFor(s *project.State) guardrail.Context {
	gc := c.Contexts[s.Phase]
	gc.Phase = string(s.Phase)
	if gc.Task == "" {
		gc.Task = s.Request
	}
	if gc.ExpectedFields == nil {
		gc.ExpectedFields = expectedFields[s.Phase]
	}
	return gc
}
