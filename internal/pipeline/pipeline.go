// Package pipeline loads the YAML pipeline file that binds crews to phases
// and tunes the orchestrator and its guardrails.
// Values may reference environment variables via ${VAR} or $VAR.
package pipeline

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/crewflow/internal/crew"
	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/guardrail"
	"github.com/p-blackswan/crewflow/internal/orchestrator"
	"github.com/p-blackswan/crewflow/internal/project"
)

//go:embed default.yaml
var defaultYAML []byte

// Crew types.
const (
	CrewScripted = "scripted"
	CrewLLM      = "llm"
)

// Config is the top-level pipeline file.
type Config struct {
	Name string `yaml:"name"`

	Orchestrator OrchestratorSettings `yaml:"orchestrator"`
	Guardrails   GuardrailSettings    `yaml:"guardrails"`
	LLM          LLMConfig            `yaml:"llm"`

	// Crews is keyed by phase name.
	Crews map[string]CrewConfig `yaml:"crews"`
}

// OrchestratorSettings overlay the process defaults.
type OrchestratorSettings struct {
	// MaxRetries is a pointer so an explicit 0 is distinguishable from unset.
	MaxRetries          *int          `yaml:"max_retries"`
	StepCeiling         int           `yaml:"step_ceiling"`
	DefaultPhaseTimeout time.Duration `yaml:"default_phase_timeout"`
	MemoryQueryLimit    int           `yaml:"memory_query_limit"`
}

// GuardrailSettings configure severity resolution.
type GuardrailSettings struct {
	LayerModes     map[string]string `yaml:"layer_modes"`
	AdvisoryChecks []string          `yaml:"advisory_checks"`
}

// LLMConfig holds provider defaults for llm crews.
type LLMConfig struct {
	// Provider: only "anthropic" is supported.
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// CrewConfig binds one phase to a crew.
type CrewConfig struct {
	Type         string        `yaml:"type"`
	Role         string        `yaml:"role"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`

	Script     crew.Script   `yaml:"script"`
	Guardrails CheckSettings `yaml:"guardrails"`
}

// CheckSettings are the per-phase guardrail expectations.
type CheckSettings struct {
	AllowedRoot      string   `yaml:"allowed_root"`
	MaxIterations    int      `yaml:"max_iterations"`
	AllowedDelegates []string `yaml:"allowed_delegates"`
	MinWords         int      `yaml:"min_words"`
	MaxWords         int      `yaml:"max_words"`
	ExpectedFields   []string `yaml:"expected_fields"`
	TopicKeywords    []string `yaml:"topic_keywords"`
}

// Load reads and parses a pipeline file, expanding env vars.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	cfg, err := LoadBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", path, err)
	}
	return cfg, nil
}

// LoadBytes parses a pipeline from bytes.
func LoadBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", apperrors.ErrInvalidConfig, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in hello-world pipeline.
func Default() *Config {
	cfg, err := LoadBytes(defaultYAML)
	if err != nil {
		panic("pipeline: embedded default is invalid: " + err.Error())
	}
	return cfg
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	for phase, c := range cfg.Crews {
		if c.Type == "" {
			c.Type = CrewScripted
		}
		if c.Script.Role == "" {
			c.Script.Role = c.Role
		}
		cfg.Crews[phase] = c
	}
}

// Validate checks phase names, crew types and guardrail settings.
func (c *Config) Validate() error {
	for _, name := range c.phaseNames() {
		p, err := project.ParsePhase(name)
		if err != nil || p.IsTerminal() {
			return fmt.Errorf("%w: crew for unknown phase %q", apperrors.ErrInvalidConfig, name)
		}
		cc := c.Crews[name]
		switch cc.Type {
		case CrewScripted:
		case CrewLLM:
			if c.LLM.Provider != "anthropic" {
				return fmt.Errorf("%w: unsupported llm provider %q", apperrors.ErrInvalidConfig, c.LLM.Provider)
			}
		default:
			return fmt.Errorf("%w: crew %s has unknown type %q", apperrors.ErrInvalidConfig, name, cc.Type)
		}
		if cc.Timeout < 0 {
			return fmt.Errorf("%w: crew %s has negative timeout", apperrors.ErrInvalidConfig, name)
		}
	}
	for layer, mode := range c.Guardrails.LayerModes {
		if _, err := guardrail.ParseLayer(layer); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
		}
		if _, err := guardrail.ParseMode(mode); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
		}
	}
	known := make(map[string]bool)
	for _, chk := range guardrail.DefaultChecks() {
		known[chk.Name()] = true
	}
	for _, name := range c.Guardrails.AdvisoryChecks {
		if !known[name] {
			return fmt.Errorf("%w: unknown guardrail check %q", apperrors.ErrInvalidConfig, name)
		}
	}
	return nil
}

// UsesLLM reports whether any crew needs a language model provider.
func (c *Config) UsesLLM() bool {
	for _, cc := range c.Crews {
		if cc.Type == CrewLLM {
			return true
		}
	}
	return false
}

// Apply overlays the pipeline's settings onto base.
func (c *Config) Apply(base orchestrator.Config) orchestrator.Config {
	out := base
	s := c.Orchestrator
	if s.MaxRetries != nil {
		out.MaxRetries = *s.MaxRetries
	}
	if s.StepCeiling != 0 {
		out.StepCeiling = s.StepCeiling
	}
	if s.DefaultPhaseTimeout != 0 {
		out.DefaultPhaseTimeout = s.DefaultPhaseTimeout
	}
	if s.MemoryQueryLimit != 0 {
		out.MemoryQueryLimit = s.MemoryQueryLimit
	}

	if len(c.Guardrails.LayerModes) > 0 {
		out.LayerModes = make(map[guardrail.Layer]guardrail.Mode, len(base.LayerModes)+len(c.Guardrails.LayerModes))
		for l, m := range base.LayerModes {
			out.LayerModes[l] = m
		}
		for l, m := range c.Guardrails.LayerModes {
			out.LayerModes[guardrail.Layer(l)] = guardrail.Mode(m)
		}
	}
	if len(c.Guardrails.AdvisoryChecks) > 0 {
		out.AdvisoryChecks = make(map[string]bool, len(base.AdvisoryChecks)+len(c.Guardrails.AdvisoryChecks))
		for k, v := range base.AdvisoryChecks {
			out.AdvisoryChecks[k] = v
		}
		for _, name := range c.Guardrails.AdvisoryChecks {
			out.AdvisoryChecks[name] = true
		}
	}

	out.PhaseTimeouts = copyTimeouts(base.PhaseTimeouts)
	out.Contexts = make(map[project.Phase]guardrail.Context, len(c.Crews))
	for phase, gc := range base.Contexts {
		out.Contexts[phase] = gc
	}
	for _, name := range c.phaseNames() {
		cc := c.Crews[name]
		p := project.Phase(strings.ToLower(name))
		if cc.Timeout > 0 {
			out.PhaseTimeouts[p] = cc.Timeout
		}
		g := cc.Guardrails
		out.Contexts[p] = guardrail.Context{
			Role:             cc.Role,
			AllowedRoot:      g.AllowedRoot,
			MaxIterations:    g.MaxIterations,
			AllowedDelegates: g.AllowedDelegates,
			MinWords:         g.MinWords,
			MaxWords:         g.MaxWords,
			ExpectedFields:   g.ExpectedFields,
			TopicKeywords:    g.TopicKeywords,
		}
	}
	return out
}

func copyTimeouts(in map[project.Phase]time.Duration) map[project.Phase]time.Duration {
	out := make(map[project.Phase]time.Duration, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// phaseNames returns the crew keys in sorted order.
func (c *Config) phaseNames() []string {
	names := make([]string, 0, len(c.Crews))
	for n := range c.Crews {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the corresponding environment
// variable value. Missing vars are replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
