package orchestrator

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/p-blackswan/crewflow/internal/crew"
	"github.com/p-blackswan/crewflow/internal/guardrail"
	"github.com/p-blackswan/crewflow/internal/memory"
	"github.com/p-blackswan/crewflow/internal/project"
)

// merge folds an accepted artifact into the working state.
func merge(s *project.State, phase project.Phase, a crew.Artifact) {
	switch phase {
	case project.PhasePlanning:
		if a.Requirements != nil {
			s.RequirementsDocument = a.Requirements
		}
		if a.Architecture != nil {
			s.ArchitectureDocument = a.Architecture
		}
	case project.PhaseDevelopment:
		for _, p := range a.RemovedFiles {
			s.RemoveCodeFile(p)
		}
		upsertFiles(s, phase, a.Files)
	case project.PhaseTesting:
		upsertFiles(s, phase, a.Files)
		s.TestResults = a.Tests
	case project.PhaseDeployment:
		if s.TestResults.AllPassed() {
			s.DeploymentConfig = a.Deployment
		}
	}
}

func upsertFiles(s *project.State, phase project.Phase, files []project.CodeFile) {
	for _, f := range files {
		if f.Phase == "" {
			f.Phase = phase
		}
		s.UpsertCodeFile(f)
	}
}

// buildInput assembles the crew input from the working clone and a bounded
// memory query.
func (o *Orchestrator) buildInput(ctx context.Context, s *project.State) crew.Input {
	c := s.Clone()
	in := crew.Input{
		ProjectID:    c.ID,
		Phase:        c.Phase,
		Request:      c.Request,
		Requirements: c.RequirementsDocument,
		Architecture: c.ArchitectureDocument,
		CodeFiles:    c.CodeFiles,
		TestResults:  c.TestResults,
		Iteration:    iteration(c),
	}
	if c.Phase == project.PhaseDevelopment {
		in.Feedback = c.Feedback
	}
	if o.memory == nil {
		return in
	}

	limit := o.cfg.MemoryQueryLimit
	in.Memory = append(in.Memory, o.memory.Collect(ctx, memory.Query{
		Scope:     memory.ScopeEntity,
		ProjectID: c.ID,
		Limit:     limit,
	})...)
	in.Memory = append(in.Memory, o.memory.Collect(ctx, memory.Query{
		Scope:     memory.ScopeShortTerm,
		ProjectID: c.ID,
		Limit:     limit,
	})...)
	in.Memory = append(in.Memory, o.memory.Collect(ctx, memory.Query{
		Scope: memory.ScopeLongTerm,
		Text:  string(c.Phase) + " " + c.Request,
		Rank:  memory.RankRelevance,
		Limit: limit,
	})...)
	return in
}

// iteration counts earlier visits of the current phase.
func iteration(s *project.State) int {
	n := 0
	for _, t := range s.History {
		if t.To == s.Phase {
			n++
		}
	}
	return max(n-1, 0)
}

// remember commits the salient facts of an accepted artifact. Free text is
// redacted before it leaves the run.
func (o *Orchestrator) remember(ctx context.Context, s *project.State, phase project.Phase, a crew.Artifact) {
	if o.memory == nil {
		return
	}
	summary := map[string]any{
		"phase":     string(phase),
		"role":      a.Role,
		"iteration": iteration(s),
	}
	if a.Text != "" {
		summary["summary"] = clip(guardrail.Redact(a.Text), 500)
	}

	switch phase {
	case project.PhasePlanning:
		if d := s.ArchitectureDocument; d != nil {
			if len(d.TechStack) > 0 {
				o.memory.Entity(ctx, s.ID, "tech_stack", map[string]any{"tech_stack": strs(d.TechStack)})
			}
			o.memory.Entity(ctx, s.ID, "architecture", map[string]any{
				"title":   guardrail.Redact(d.Title),
				"summary": clip(guardrail.Redact(d.Summary), 500),
			})
			o.memory.LongTerm(ctx, "decision:architecture", map[string]any{
				"request":    clip(guardrail.Redact(s.Request), 300),
				"title":      guardrail.Redact(d.Title),
				"tech_stack": strs(d.TechStack),
			})
		}
	case project.PhaseDevelopment:
		paths := make([]any, 0, len(a.Files))
		for _, f := range a.Files {
			paths = append(paths, f.Path)
		}
		summary["files"] = paths
		if len(a.RemovedFiles) > 0 {
			summary["removed_files"] = strs(a.RemovedFiles)
		}
	case project.PhaseTesting:
		if tr := s.TestResults; tr != nil {
			summary["passed"] = tr.Passed
			summary["failed"] = tr.Failed
			summary["failing_cases"] = strs(tr.FailingCases)
			if !tr.AllPassed() {
				o.memory.LongTerm(ctx, "pattern:test_failure", map[string]any{
					"request":       clip(guardrail.Redact(s.Request), 300),
					"failing_cases": strs(tr.FailingCases),
					"tech_stack":    techStack(s),
				})
			}
		}
	case project.PhaseDeployment:
		if d := s.DeploymentConfig; d != nil {
			summary["target"] = d.Target
			o.memory.LongTerm(ctx, "decision:deployment", map[string]any{
				"target":     d.Target,
				"tech_stack": techStack(s),
			})
		}
	}
	o.memory.ShortTerm(ctx, s.ID, "phase:"+string(phase), summary)
}

func techStack(s *project.State) []any {
	if s.ArchitectureDocument == nil {
		return []any{}
	}
	return strs(s.ArchitectureDocument.TechStack)
}

func strs(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = guardrail.Redact(v)
	}
	return out
}

// clip trims s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
