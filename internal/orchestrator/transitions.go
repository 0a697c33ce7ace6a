package orchestrator

import (
	"fmt"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/project"
)

// Transition is one routing rule. Rules are evaluated in table order after
// an artifact passed the guardrails and was merged; the first rule whose
// From matches the current phase and whose When holds is taken.
type Transition struct {
	From project.Phase
	Name string
	When func(s *project.State) bool
	To   project.Phase

	// Effect runs on the working clone before the phase change.
	Effect func(s *project.State)
}

// testLoop is the only loop-back edge in the default table.
var testLoop = project.Loop(project.PhaseTesting, project.PhaseDevelopment)

// DefaultTransitions returns the delivery routing table for maxRetries.
// Guardrail and adapter failures are not listed: they end the run from any
// phase before routing is consulted.
func DefaultTransitions(maxRetries int) []Transition {
	resetLoop := func(s *project.State) {
		s.RetryCounters[testLoop] = 0
		s.Feedback = ""
	}
	testsFailed := func(s *project.State) bool { return !s.TestResults.AllPassed() }

	return []Transition{
		{
			From:   project.PhasePlanning,
			Name:   "architecture accepted",
			When:   func(s *project.State) bool { return s.ArchitectureDocument != nil },
			To:     project.PhaseDevelopment,
			Effect: resetLoop,
		},
		{
			From: project.PhaseDevelopment,
			Name: "code accepted",
			When: func(s *project.State) bool { return len(s.CodeFiles) > 0 },
			To:   project.PhaseTesting,
		},
		{
			From:   project.PhaseTesting,
			Name:   "all tests pass",
			When:   func(s *project.State) bool { return s.TestResults.AllPassed() },
			To:     project.PhaseDeployment,
			Effect: resetLoop,
		},
		{
			From: project.PhaseTesting,
			Name: "tests failed, retrying",
			When: func(s *project.State) bool {
				return testsFailed(s) && s.RetryCounters[testLoop] < maxRetries
			},
			To: project.PhaseDevelopment,
			Effect: func(s *project.State) {
				s.RetryCounters[testLoop]++
				s.Feedback = s.TestResults.Feedback()
			},
		},
		{
			From: project.PhaseTesting,
			Name: "retry budget exhausted",
			When: func(s *project.State) bool {
				return testsFailed(s) && s.RetryCounters[testLoop] >= maxRetries
			},
			To: project.PhaseFailed,
			Effect: func(s *project.State) {
				s.FailureKind = apperrors.Kind(apperrors.ErrRetryBudgetExhausted)
				s.FailureReason = fmt.Sprintf("retry budget exhausted after %d of %d retries: %s",
					s.RetryCounters[testLoop], maxRetries, s.TestResults.Feedback())
			},
		},
		{
			From: project.PhaseDeployment,
			Name: "packaging accepted",
			When: func(s *project.State) bool { return s.DeploymentConfig != nil },
			To:   project.PhaseDone,
		},
	}
}

// route returns the first matching rule for the state's phase.
func route(table []Transition, s *project.State) (Transition, bool) {
	for _, t := range table {
		if t.From == s.Phase && (t.When == nil || t.When(s)) {
			return t, true
		}
	}
	return Transition{}, false
}
