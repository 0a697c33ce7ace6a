package crew

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/llm"
	"github.com/p-blackswan/crewflow/internal/project"
)

var phaseInstructions = map[project.Phase]string{
	project.PhasePlanning: "Produce the requirements and architecture documents for the request. " +
		`Fill "requirements" and "architecture" with title, summary, sections and tech_stack.`,
	project.PhaseDevelopment: "Implement the architecture. Return every created or changed file in " +
		`"files" with a relative path and full content. List paths that are no longer needed in ` +
		`"removed_files". Address the feedback if any.`,
	project.PhaseTesting: "Review the code files and report the test outcome in " +
		`"tests" with passed, failed and failing_cases.`,
	project.PhaseDeployment: "Package the tested code for release. Describe it in " +
		`"deployment" with target, manifest and notes.`,
}

// LLM is an Adapter that asks a language model for the phase artifact.
// It makes one provider call per Execute and never retries.
type LLM struct {
	provider llm.Provider
	role     string
	system   string
	logger   zerolog.Logger
}

// NewLLM builds an LLM-backed crew acting as role.
func NewLLM(provider llm.Provider, role, systemPrompt string, logger zerolog.Logger) *LLM {
	return &LLM{
		provider: provider,
		role:     role,
		system:   systemPrompt,
		logger:   logger.With().Str("component", "crew.llm").Str("role", role).Logger(),
	}
}

func (c *LLM) Execute(ctx context.Context, phase project.Phase, in Input) (Artifact, error) {
	prompt, err := BuildPrompt(c.role, phase, in)
	if err != nil {
		return Artifact{}, apperrors.NewAdapterError(apperrors.AdapterBackend, string(phase), err)
	}

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: c.system,
		Messages:     []llm.Message{llm.UserMessage(prompt)},
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return Artifact{}, apperrors.NewAdapterError(apperrors.AdapterTimeout, string(phase), err)
		}
		return Artifact{}, apperrors.NewAdapterError(apperrors.AdapterBackend, string(phase), err)
	}

	art, err := DecodeArtifact(resp.Text)
	if err != nil {
		c.logger.Warn().Err(err).Str("phase", string(phase)).Str("stop_reason", resp.StopReason).Msg("undecodable crew output")
		return Artifact{}, apperrors.NewAdapterError(apperrors.AdapterMalformed, string(phase), err)
	}
	if art.Role == "" {
		art.Role = c.role
	}
	c.logger.Debug().
		Str("phase", string(phase)).
		Int("files", len(art.Files)).
		Int("out_tokens", resp.OutputTokens).
		Msg("crew artifact decoded")
	return art, nil
}

// BuildPrompt renders the phase instructions and the input context as JSON.
func BuildPrompt(role string, phase project.Phase, in Input) (string, error) {
	ctxJSON, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode crew input: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s crew for the %s phase.\n", role, phase)
	b.WriteString(phaseInstructions[phase])
	b.WriteString("\nRespond with a single JSON object with the fields role, text, requirements, architecture, files, removed_files, tests, deployment, iterations and delegations. Omit fields you do not produce.\n\nContext:\n")
	b.Write(ctxJSON)
	return b.String(), nil
}

// DecodeArtifact extracts the first JSON object from model output,
// tolerating surrounding prose and markdown fences.
func DecodeArtifact(text string) (Artifact, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return Artifact{}, errors.New("no JSON object in response")
	}
	var a Artifact
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return Artifact{}, fmt.Errorf("decode artifact: %w", err)
	}
	return a, nil
}
