package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/crewflow/internal/crew"
	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/guardrail"
	"github.com/p-blackswan/crewflow/internal/llm"
	"github.com/p-blackswan/crewflow/internal/orchestrator"
	"github.com/p-blackswan/crewflow/internal/project"
)

const sampleYAML = `
name: sample
orchestrator:
  max_retries: 0
  step_ceiling: 12
  default_phase_timeout: 2m
guardrails:
  layer_modes:
    quality: advisory
  advisory_checks: [scope_control]
llm:
  model: claude-test
  api_key: ${TEST_CREWFLOW_KEY}
crews:
  planning:
    role: planner
    script:
      text: plan
      architecture:
        title: Arch
        tech_stack: [go, sqlite]
  development:
    type: llm
    role: developer
    system_prompt: You write Go.
    max_tokens: 2048
    timeout: 45s
    guardrails:
      allowed_root: src
      topic_keywords: [cli]
      allowed_delegates: [reviewer]
  Testing:
    script:
      fail_times: 1
      failing_cases: [TestA]
  deployment:
    script:
      deployment:
        target: container
`

func TestLoadBytes(t *testing.T) {
	t.Setenv("TEST_CREWFLOW_KEY", "sk-test-123")

	cfg, err := LoadBytes([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "sample", cfg.Name)
	require.NotNil(t, cfg.Orchestrator.MaxRetries)
	assert.Equal(t, 0, *cfg.Orchestrator.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.DefaultPhaseTimeout)
	assert.Equal(t, "sk-test-123", cfg.LLM.APIKey)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)

	plan := cfg.Crews["planning"]
	assert.Equal(t, CrewScripted, plan.Type)
	assert.Equal(t, "planner", plan.Script.Role, "script role falls back to crew role")
	assert.Equal(t, []string{"go", "sqlite"}, plan.Script.Architecture.TechStack)
	assert.Equal(t, 1, cfg.Crews["Testing"].Script.FailTimes)
	assert.Equal(t, 45*time.Second, cfg.Crews["development"].Timeout)
	assert.True(t, cfg.UsesLLM())
}

func TestApply(t *testing.T) {
	t.Setenv("TEST_CREWFLOW_KEY", "k")
	cfg, err := LoadBytes([]byte(sampleYAML))
	require.NoError(t, err)

	base := orchestrator.DefaultConfig()
	base.PhaseTimeouts = map[project.Phase]time.Duration{project.PhasePlanning: time.Minute}
	out := cfg.Apply(base)

	assert.Equal(t, 0, out.MaxRetries)
	assert.Equal(t, 12, out.StepCeiling)
	assert.Equal(t, 2*time.Minute, out.DefaultPhaseTimeout)
	assert.Equal(t, orchestrator.DefaultMemoryQueryLimit, out.MemoryQueryLimit)
	assert.Equal(t, guardrail.ModeAdvisory, out.LayerModes[guardrail.LayerQuality])
	assert.True(t, out.AdvisoryChecks["scope_control"])
	assert.Equal(t, time.Minute, out.PhaseTimeouts[project.PhasePlanning])
	assert.Equal(t, 45*time.Second, out.PhaseTimeouts[project.PhaseDevelopment])

	dev := out.Contexts[project.PhaseDevelopment]
	assert.Equal(t, "developer", dev.Role)
	assert.Equal(t, "src", dev.AllowedRoot)
	assert.Equal(t, []string{"cli"}, dev.TopicKeywords)
	assert.Equal(t, []string{"reviewer"}, dev.AllowedDelegates)
	assert.Contains(t, out.Contexts, project.PhaseTesting)

	// base is left untouched
	assert.Len(t, base.PhaseTimeouts, 1)
	assert.NoError(t, out.Validate())
}

func TestApply_KeepsBaseWhenUnset(t *testing.T) {
	cfg, err := LoadBytes([]byte("crews: {}\n"))
	require.NoError(t, err)

	base := orchestrator.DefaultConfig()
	base.MaxRetries = 5
	out := cfg.Apply(base)
	assert.Equal(t, 5, out.MaxRetries)
	assert.Equal(t, orchestrator.DefaultStepCeiling, out.StepCeiling)
}

func TestValidate_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown phase":    "crews:\n  review:\n    type: scripted\n",
		"terminal phase":   "crews:\n  done:\n    type: scripted\n",
		"unknown type":     "crews:\n  planning:\n    type: shell\n",
		"bad layer":        "guardrails:\n  layer_modes:\n    network: advisory\n",
		"bad mode":         "guardrails:\n  layer_modes:\n    quality: silent\n",
		"unknown check":    "guardrails:\n  advisory_checks: [spellcheck]\n",
		"bad provider":     "llm:\n  provider: openai\ncrews:\n  planning:\n    type: llm\n",
		"negative timeout": "crews:\n  planning:\n    timeout: -1s\n",
		"broken yaml":      "crews: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadBytes([]byte(doc))
			assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\ncrews: {}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CREWFLOW_TEST_A", "alpha")
	assert.Equal(t, "x alpha y", expandEnvVars("x ${CREWFLOW_TEST_A} y"))
	assert.Equal(t, "alpha", expandEnvVars("$CREWFLOW_TEST_A"))
	assert.Equal(t, "", expandEnvVars("${CREWFLOW_TEST_MISSING}"))
}

func TestDefault_RunsHelloWorld(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "hello-world", cfg.Name)
	assert.False(t, cfg.UsesLLM())

	provider, err := cfg.Provider("", zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, provider)

	crews, err := cfg.BuildCrews(nil, zerolog.Nop())
	require.NoError(t, err)

	o := orchestrator.New(orchestrator.Deps{Crews: crews, Logger: zerolog.Nop()}, cfg.Apply(orchestrator.DefaultConfig()))
	res, err := o.RunProject(context.Background(), "build a hello world CLI")
	require.NoError(t, err)

	require.Equal(t, project.PhaseDone, res.FinalPhase, res.State.FailureReason)
	assert.Len(t, res.History, 4)
	assert.Len(t, res.State.CodeFiles, 2)
	assert.Empty(t, res.State.Warnings)
}

type nopProvider struct{}

func (nopProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Text: `{"files":[{"path":"main.go","content":"package main"}]}`}, nil
}
func (nopProvider) ModelID() string { return "nop" }
func (nopProvider) MaxTokens() int  { return 100 }

func TestCrews_LLM(t *testing.T) {
	t.Setenv("TEST_CREWFLOW_KEY", "")
	cfg, err := LoadBytes([]byte(sampleYAML))
	require.NoError(t, err)

	_, err = cfg.BuildCrews(nil, zerolog.Nop())
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)

	_, err = cfg.Provider("", zerolog.Nop())
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)

	p, err := cfg.Provider("sk-override", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "claude-test", p.ModelID())

	reg, err := cfg.BuildCrews(nopProvider{}, zerolog.Nop())
	require.NoError(t, err)
	art, err := reg.Execute(context.Background(), project.PhaseDevelopment, crewInput())
	require.NoError(t, err)
	assert.Equal(t, "developer", art.Role)
}

func TestCrews_MissingPhase(t *testing.T) {
	cfg, err := LoadBytes([]byte("crews:\n  planning:\n    script:\n      text: x\n"))
	require.NoError(t, err)
	_, err = cfg.BuildCrews(nil, zerolog.Nop())
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}

func crewInput() crew.Input {
	return crew.Input{ProjectID: "p1", Phase: project.PhaseDevelopment, Request: "cli"}
}
