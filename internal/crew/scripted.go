package crew

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/project"
	"github.com/p-blackswan/crewflow/lru"
)

// maxTrackedProjects bounds the per-project call counters of a Scripted
// crew. The least recently active project is forgotten first.
const maxTrackedProjects = 1024

// Script describes a deterministic crew. Text fields may reference
// {{request}}, {{project_id}} and {{feedback}}.
type Script struct {
	Artifact `yaml:",inline"`

	// FailTimes makes the first N testing invocations report FailingCases.
	FailTimes    int      `yaml:"fail_times,omitempty"`
	FailingCases []string `yaml:"failing_cases,omitempty"`

	// Delay sleeps before answering, honouring cancellation.
	Delay time.Duration `yaml:"delay,omitempty"`

	// Error simulates an adapter failure: timeout, backend_failure or malformed_response.
	Error string `yaml:"error,omitempty"`

	// IgnoreCancel keeps sleeping through Delay even after cancellation.
	IgnoreCancel bool `yaml:"ignore_cancel,omitempty"`
}

// Scripted is an Adapter that replays a Script. Safe for concurrent use.
type Scripted struct {
	script Script

	mu    sync.Mutex
	calls *lru.Cache[string, int] // per project
}

// NewScripted creates a scripted crew.
func NewScripted(s Script) *Scripted {
	return &Scripted{script: s, calls: lru.New[string, int](maxTrackedProjects)}
}

// Calls returns how often the crew ran for projectID.
func (s *Scripted) Calls(projectID string) int {
	n, _ := s.calls.Peek(projectID)
	return n
}

// TrackedProjects reports how many projects currently hold a call counter.
func (s *Scripted) TrackedProjects() int { return s.calls.Len() }

func (s *Scripted) countCall(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := s.calls.Get(projectID)
	n++
	s.calls.Put(projectID, n)
	return n
}

func (s *Scripted) Execute(ctx context.Context, phase project.Phase, in Input) (Artifact, error) {
	call := s.countCall(in.ProjectID)

	if s.script.Delay > 0 {
		if s.script.IgnoreCancel {
			time.Sleep(s.script.Delay)
		} else {
			select {
			case <-ctx.Done():
				return Artifact{}, apperrors.AsAdapterError(string(phase), ctx.Err())
			case <-time.After(s.script.Delay):
			}
		}
	}

	if s.script.Error != "" {
		kind := apperrors.AdapterErrorKind(s.script.Error)
		return Artifact{}, apperrors.NewAdapterError(kind, string(phase), errors.New("scripted failure"))
	}

	art := s.render(in)
	if phase == project.PhaseTesting && (s.script.FailTimes > 0 || art.Tests == nil) {
		art.Tests = s.testResults(call, in)
	}
	return art, nil
}

func (s *Scripted) testResults(call int, in Input) *project.TestResults {
	total := len(in.CodeFiles)
	if total == 0 {
		total = 1
	}
	if call <= s.script.FailTimes {
		cases := s.script.FailingCases
		if len(cases) == 0 {
			cases = []string{fmt.Sprintf("iteration_%d", call)}
		}
		return &project.TestResults{
			Passed:       max(total-len(cases), 0),
			Failed:       len(cases),
			FailingCases: append([]string(nil), cases...),
		}
	}
	if s.script.Tests != nil {
		tr := *s.script.Tests
		tr.FailingCases = append([]string(nil), s.script.Tests.FailingCases...)
		return &tr
	}
	return &project.TestResults{Passed: total, Coverage: 1}
}

// render deep-copies the scripted artifact and expands placeholders.
func (s *Scripted) render(in Input) Artifact {
	r := strings.NewReplacer(
		"{{request}}", in.Request,
		"{{project_id}}", in.ProjectID,
		"{{feedback}}", in.Feedback,
	)
	a := s.script.Artifact
	a.Text = r.Replace(a.Text)
	a.Requirements = renderDoc(a.Requirements, r)
	a.Architecture = renderDoc(a.Architecture, r)
	if a.Files != nil {
		files := make([]project.CodeFile, len(a.Files))
		for i, f := range a.Files {
			f.Content = r.Replace(f.Content)
			files[i] = f
		}
		a.Files = files
	}
	if a.Deployment != nil {
		d := *a.Deployment
		d.Manifest = r.Replace(d.Manifest)
		d.Notes = r.Replace(d.Notes)
		a.Deployment = &d
	}
	if a.Tests != nil {
		tr := *a.Tests
		tr.FailingCases = append([]string(nil), a.Tests.FailingCases...)
		a.Tests = &tr
	}
	a.Delegations = append([]string(nil), a.Delegations...)
	a.RemovedFiles = append([]string(nil), a.RemovedFiles...)
	return a
}

func renderDoc(d *project.Document, r *strings.Replacer) *project.Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Title = r.Replace(d.Title)
	c.Summary = r.Replace(d.Summary)
	if d.Sections != nil {
		c.Sections = make(map[string]string, len(d.Sections))
		for k, v := range d.Sections {
			c.Sections[k] = r.Replace(v)
		}
	}
	c.TechStack = append([]string(nil), d.TechStack...)
	return &c
}
