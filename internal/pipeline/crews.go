package pipeline

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/crewflow/internal/crew"
	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/llm"
	"github.com/p-blackswan/crewflow/internal/project"
)

// Provider builds the language model provider for llm crews. apiKey
// overrides the key from the file when non-empty. It returns nil when no
// crew needs a provider.
func (c *Config) Provider(apiKey string, logger zerolog.Logger) (llm.Provider, error) {
	if !c.UsesLLM() {
		return nil, nil
	}
	if apiKey == "" {
		apiKey = c.LLM.APIKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: llm crews need an API key", apperrors.ErrInvalidConfig)
	}
	opts := []llm.AnthropicOption{llm.WithMaxTokens(c.LLM.MaxTokens), llm.WithLogger(logger)}
	if c.LLM.Model != "" {
		opts = append(opts, llm.WithModel(c.LLM.Model))
	}
	if c.LLM.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(c.LLM.BaseURL))
	}
	return llm.NewAnthropicProvider(apiKey, opts...), nil
}

// BuildCrews builds the phase registry. Per-phase timeouts are applied by the
// orchestrator, so adapters are registered unwrapped.
func (c *Config) BuildCrews(provider llm.Provider, logger zerolog.Logger) (*crew.Registry, error) {
	reg := crew.NewRegistry()
	for _, name := range c.phaseNames() {
		cc := c.Crews[name]
		phase := project.Phase(strings.ToLower(name))
		switch cc.Type {
		case CrewScripted:
			reg.Register(phase, crew.NewScripted(cc.Script))
		case CrewLLM:
			if provider == nil {
				return nil, fmt.Errorf("%w: crew %s needs an llm provider", apperrors.ErrInvalidConfig, name)
			}
			role := cc.Role
			if role == "" {
				role = string(phase)
			}
			reg.Register(phase, crew.NewLLM(llm.WithMaxTokensOverride(provider, cc.MaxTokens), role, cc.SystemPrompt, logger))
		}
	}
	if missing := reg.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: no crew for phases %v", apperrors.ErrInvalidConfig, missing)
	}
	return reg, nil
}
