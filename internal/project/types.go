package project

import (
	"fmt"
	"strings"
	"time"
)

// Phase is a named stage of the delivery pipeline.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseDevelopment Phase = "development"
	PhaseTesting     Phase = "testing"
	PhaseDeployment  Phase = "deployment"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Phases lists every declared phase in pipeline order.
var Phases = []Phase{PhasePlanning, PhaseDevelopment, PhaseTesting, PhaseDeployment, PhaseDone, PhaseFailed}

// WorkPhases are the non-terminal phases that invoke a crew.
var WorkPhases = []Phase{PhasePlanning, PhaseDevelopment, PhaseTesting, PhaseDeployment}

// Valid reports whether p is one of the declared phases.
func (p Phase) Valid() bool {
	for _, v := range Phases {
		if p == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether p ends a run.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

func (p Phase) String() string { return string(p) }

// ParsePhase parses a phase name case-insensitively.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// LoopKey identifies a routing loop-back edge, e.g. "testing→development".
type LoopKey string

// Loop builds the LoopKey for the edge from → to.
func Loop(from, to Phase) LoopKey {
	return LoopKey(string(from) + "→" + string(to))
}

// Document is a structured planning artifact (requirements or architecture).
type Document struct {
	Title     string            `json:"title" yaml:"title"`
	Summary   string            `json:"summary" yaml:"summary"`
	Sections  map[string]string `json:"sections,omitempty" yaml:"sections,omitempty"`
	TechStack []string          `json:"tech_stack,omitempty" yaml:"tech_stack,omitempty"`
}

// CodeFile is one produced source artifact.
type CodeFile struct {
	Path    string `json:"path" yaml:"path"`
	Content string `json:"content" yaml:"content"`
	Phase   Phase  `json:"phase" yaml:"phase"`
}

// TestResults is the latest test execution outcome.
type TestResults struct {
	Passed       int      `json:"passed" yaml:"passed"`
	Failed       int      `json:"failed" yaml:"failed"`
	FailingCases []string `json:"failing_cases,omitempty" yaml:"failing_cases,omitempty"`
	Coverage     float64  `json:"coverage" yaml:"coverage"`
}

// AllPassed reports whether the run had no failures.
func (t *TestResults) AllPassed() bool {
	return t != nil && t.Failed == 0 && len(t.FailingCases) == 0
}

// Feedback renders failing cases as input for the next development iteration.
func (t *TestResults) Feedback() string {
	if t == nil || t.AllPassed() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d test(s) failed", t.Failed)
	if len(t.FailingCases) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(t.FailingCases, ", "))
	}
	return b.String()
}

// DeploymentConfig is the packaging artifact produced after a passing test gate.
type DeploymentConfig struct {
	Target   string `json:"target" yaml:"target"`
	Manifest string `json:"manifest" yaml:"manifest"`
	Notes    string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Transition is one entry of the append-only phase history.
type Transition struct {
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ListQuery filters persisted project snapshots.
type ListQuery struct {
	Phase  Phase
	Limit  int
	Offset int
}
