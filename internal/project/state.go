// Package project holds the ProjectState record threaded through every phase
// of a run, and its SQLite-backed snapshot store.
package project

import (
	"time"

	"github.com/google/uuid"
)

// State is the authoritative record of one project run. It is owned by a
// single orchestrator run; Phase, History and RetryCounters are mutated only
// by the orchestrator.
type State struct {
	ID      string `json:"id"`
	Phase   Phase  `json:"phase"`
	Request string `json:"request"`

	RequirementsDocument *Document         `json:"requirements_document,omitempty"`
	ArchitectureDocument *Document         `json:"architecture_document,omitempty"`
	CodeFiles            []CodeFile        `json:"code_files,omitempty"`
	TestResults          *TestResults      `json:"test_results,omitempty"`
	DeploymentConfig     *DeploymentConfig `json:"deployment_config,omitempty"`

	History       []Transition    `json:"history"`
	RetryCounters map[LoopKey]int `json:"retry_counters"`

	// Feedback is attached to the next development input after a failed test gate.
	Feedback string   `json:"feedback,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	FailureKind   string `json:"failure_kind,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates the initial state for a request. The run starts in Planning.
func New(request string) *State {
	now := time.Now().UTC()
	return &State{
		ID:            uuid.New().String(),
		Phase:         PhasePlanning,
		Request:       request,
		History:       []Transition{},
		RetryCounters: make(map[LoopKey]int),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.RequirementsDocument = s.RequirementsDocument.clone()
	c.ArchitectureDocument = s.ArchitectureDocument.clone()
	if s.CodeFiles != nil {
		c.CodeFiles = append([]CodeFile(nil), s.CodeFiles...)
	}
	if s.TestResults != nil {
		tr := *s.TestResults
		tr.FailingCases = append([]string(nil), s.TestResults.FailingCases...)
		c.TestResults = &tr
	}
	if s.DeploymentConfig != nil {
		dc := *s.DeploymentConfig
		c.DeploymentConfig = &dc
	}
	c.History = append([]Transition{}, s.History...)
	c.RetryCounters = make(map[LoopKey]int, len(s.RetryCounters))
	for k, v := range s.RetryCounters {
		c.RetryCounters[k] = v
	}
	if s.Warnings != nil {
		c.Warnings = append([]string(nil), s.Warnings...)
	}
	return &c
}

func (d *Document) clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Sections != nil {
		c.Sections = make(map[string]string, len(d.Sections))
		for k, v := range d.Sections {
			c.Sections[k] = v
		}
	}
	c.TechStack = append([]string(nil), d.TechStack...)
	return &c
}

// UpsertCodeFile replaces the file with the same path or appends it,
// preserving the order in which paths were first produced.
func (s *State) UpsertCodeFile(f CodeFile) {
	for i := range s.CodeFiles {
		if s.CodeFiles[i].Path == f.Path {
			s.CodeFiles[i] = f
			return
		}
	}
	s.CodeFiles = append(s.CodeFiles, f)
}

// RemoveCodeFile drops the file at path, keeping the order of the rest.
func (s *State) RemoveCodeFile(path string) bool {
	for i := range s.CodeFiles {
		if s.CodeFiles[i].Path == path {
			s.CodeFiles = append(s.CodeFiles[:i], s.CodeFiles[i+1:]...)
			return true
		}
	}
	return false
}

// MoveTo appends a history entry and sets the phase.
func (s *State) MoveTo(to Phase, reason string, at time.Time) {
	s.History = append(s.History, Transition{From: s.Phase, To: to, Reason: reason, At: at})
	s.Phase = to
	s.UpdatedAt = at
}

// LoopBacks counts history entries for the edge from → to.
func (s *State) LoopBacks(from, to Phase) int {
	n := 0
	for _, t := range s.History {
		if t.From == from && t.To == to {
			n++
		}
	}
	return n
}

// LastTransition returns the most recent history entry, if any.
func (s *State) LastTransition() (Transition, bool) {
	if len(s.History) == 0 {
		return Transition{}, false
	}
	return s.History[len(s.History)-1], true
}

// Consistent reports whether the phase agrees with the last history entry.
// A state without history must still be in Planning.
func (s *State) Consistent() bool {
	if !s.Phase.Valid() {
		return false
	}
	last, ok := s.LastTransition()
	if !ok {
		return s.Phase == PhasePlanning
	}
	return last.To == s.Phase
}
