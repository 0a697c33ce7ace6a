// Package crew is the boundary between the orchestrator and the work units
// that produce artifacts for each phase.
package crew

import (
	"context"
	"fmt"
	"sort"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/guardrail"
	"github.com/p-blackswan/crewflow/internal/memory"
	"github.com/p-blackswan/crewflow/internal/project"
)

// Input is the context handed to a crew for one phase. It is built from a
// clone of the project state, so crews cannot mutate the run.
type Input struct {
	ProjectID    string               `json:"project_id"`
	Phase        project.Phase        `json:"phase"`
	Request      string               `json:"request"`
	Requirements *project.Document    `json:"requirements,omitempty"`
	Architecture *project.Document    `json:"architecture,omitempty"`
	CodeFiles    []project.CodeFile   `json:"code_files,omitempty"`
	TestResults  *project.TestResults `json:"test_results,omitempty"`
	Feedback     string               `json:"feedback,omitempty"`
	Memory       []memory.Record      `json:"memory,omitempty"`

	// Iteration counts how many times this phase has run before, starting at 0.
	Iteration int `json:"iteration"`
}

// Artifact is the raw output of a crew.
type Artifact struct {
	Role         string                    `json:"role" yaml:"role"`
	Text         string                    `json:"text,omitempty" yaml:"text,omitempty"`
	Requirements *project.Document         `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	Architecture *project.Document         `json:"architecture,omitempty" yaml:"architecture,omitempty"`
	Files        []project.CodeFile        `json:"files,omitempty" yaml:"files,omitempty"`
	RemovedFiles []string                  `json:"removed_files,omitempty" yaml:"removed_files,omitempty"`
	Tests        *project.TestResults      `json:"tests,omitempty" yaml:"tests,omitempty"`
	Deployment   *project.DeploymentConfig `json:"deployment,omitempty" yaml:"deployment,omitempty"`
	Iterations   int                       `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	Delegations  []string                  `json:"delegations,omitempty" yaml:"delegations,omitempty"`
}

// Kind names the artifact type a phase produces.
func Kind(phase project.Phase) string {
	switch phase {
	case project.PhasePlanning:
		return "document"
	case project.PhaseDevelopment:
		return "code"
	case project.PhaseTesting:
		return "test_report"
	case project.PhaseDeployment:
		return "deployment"
	}
	return "unknown"
}

// ForGuardrail converts the artifact into the neutral form the checks see.
func (a Artifact) ForGuardrail(phase project.Phase) guardrail.Artifact {
	g := guardrail.Artifact{
		Kind:        Kind(phase),
		Role:        a.Role,
		Text:        a.Text,
		Structured:  map[string]any{},
		Iterations:  a.Iterations,
		Delegations: append([]string(nil), a.Delegations...),
	}
	for _, f := range a.Files {
		g.Files = append(g.Files, guardrail.File{Path: f.Path, Content: f.Content})
	}
	if a.Requirements != nil {
		g.Structured["requirements"] = documentFields(a.Requirements)
	}
	if a.Architecture != nil {
		g.Structured["architecture"] = documentFields(a.Architecture)
	}
	if len(a.Files) > 0 {
		paths := make([]any, len(a.Files))
		for i, f := range a.Files {
			paths[i] = f.Path
		}
		g.Structured["files"] = paths
	}
	if a.Tests != nil {
		cases := make([]any, len(a.Tests.FailingCases))
		for i, c := range a.Tests.FailingCases {
			cases[i] = c
		}
		g.Structured["tests"] = map[string]any{
			"passed":        a.Tests.Passed,
			"failed":        a.Tests.Failed,
			"failing_cases": cases,
		}
	}
	if a.Deployment != nil {
		g.Structured["deployment"] = map[string]any{
			"target":   a.Deployment.Target,
			"manifest": a.Deployment.Manifest,
			"notes":    a.Deployment.Notes,
		}
	}
	return g
}

func documentFields(d *project.Document) map[string]any {
	m := map[string]any{"title": d.Title, "summary": d.Summary}
	if len(d.Sections) > 0 {
		sections := make(map[string]any, len(d.Sections))
		for k, v := range d.Sections {
			sections[k] = v
		}
		m["sections"] = sections
	}
	if len(d.TechStack) > 0 {
		stack := make([]any, len(d.TechStack))
		for i, s := range d.TechStack {
			stack[i] = s
		}
		m["tech_stack"] = stack
	}
	return m
}

// Adapter executes one phase. Errors must be *errors.AdapterError.
type Adapter interface {
	Execute(ctx context.Context, phase project.Phase, in Input) (Artifact, error)
}

// Func adapts a plain function into an Adapter.
type Func func(ctx context.Context, phase project.Phase, in Input) (Artifact, error)

// Execute calls f and normalizes any error into an AdapterError.
func (f Func) Execute(ctx context.Context, phase project.Phase, in Input) (Artifact, error) {
	a, err := f(ctx, phase, in)
	if err != nil {
		return Artifact{}, apperrors.AsAdapterError(string(phase), err)
	}
	return a, nil
}

// Registry binds phases to adapters.
type Registry struct {
	adapters map[project.Phase]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[project.Phase]Adapter)}
}

// Register binds a to phase, replacing any previous binding.
func (r *Registry) Register(phase project.Phase, a Adapter) *Registry {
	r.adapters[phase] = a
	return r
}

// Has reports whether phase has an adapter.
func (r *Registry) Has(phase project.Phase) bool {
	_, ok := r.adapters[phase]
	return ok
}

// Phases lists bound phases in pipeline order.
func (r *Registry) Phases() []project.Phase {
	var out []project.Phase
	for p := range r.adapters {
		out = append(out, p)
	}
	order := make(map[project.Phase]int, len(project.Phases))
	for i, p := range project.Phases {
		order[p] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}

// Missing returns the work phases with no adapter bound.
func (r *Registry) Missing() []project.Phase {
	var out []project.Phase
	for _, p := range project.WorkPhases {
		if !r.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Execute dispatches to the adapter bound to phase.
func (r *Registry) Execute(ctx context.Context, phase project.Phase, in Input) (Artifact, error) {
	a, ok := r.adapters[phase]
	if !ok {
		return Artifact{}, apperrors.NewAdapterError(apperrors.AdapterBackend, string(phase),
			fmt.Errorf("no crew registered for phase %s", phase))
	}
	art, err := a.Execute(ctx, phase, in)
	if err != nil {
		return Artifact{}, apperrors.AsAdapterError(string(phase), err)
	}
	return art, nil
}
