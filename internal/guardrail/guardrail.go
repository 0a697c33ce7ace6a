// Package guardrail validates crew artifacts through ordered layers of pure,
// deterministic checks: behavioral, then security, then quality.
//
// Every check of every layer runs on each artifact; a run never stops at the
// first failure, so the report always carries the full set of diagnostics.
package guardrail

import (
	"fmt"
	"sort"
)

// Layer groups checks by concern.
type Layer string

const (
	LayerBehavioral Layer = "behavioral"
	LayerSecurity   Layer = "security"
	LayerQuality    Layer = "quality"
)

// Layers lists layers in evaluation order.
var Layers = []Layer{LayerBehavioral, LayerSecurity, LayerQuality}

// Valid reports whether l is a declared layer.
func (l Layer) Valid() bool { return l.order() < len(Layers) }

// ParseLayer parses a layer name.
func ParseLayer(s string) (Layer, error) {
	l := Layer(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown guardrail layer %q", s)
	}
	return l, nil
}

func (l Layer) order() int {
	for i, v := range Layers {
		if v == l {
			return i
		}
	}
	return len(Layers)
}

// Severity says whether a failed check stops the run.
type Severity string

const (
	SeverityInformational Severity = "informational"
	SeverityBlocking      Severity = "blocking"
)

// Mode configures how failures in a layer are treated.
type Mode string

const (
	ModeBlocking Mode = "blocking"
	ModeAdvisory Mode = "advisory"
)

// ParseMode parses a layer mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBlocking, ModeAdvisory:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown guardrail mode %q", s)
}

// Result is the immutable outcome of one check.
type Result struct {
	Check    string   `json:"check"`
	Layer    Layer    `json:"layer"`
	Passed   bool     `json:"passed"`
	Reason   string   `json:"reason,omitempty"`
	Severity Severity `json:"severity"`
}

// Outcome is what a Check reports before the pipeline resolves severity.
type Outcome struct {
	Passed bool
	Reason string
}

// Pass is the zero-reason passing outcome.
func Pass() Outcome { return Outcome{Passed: true} }

// Fail builds a failing outcome.
func Fail(format string, args ...any) Outcome {
	return Outcome{Reason: fmt.Sprintf(format, args...)}
}

// Check is a single validator. Implementations must not perform I/O and
// must return the same outcome for the same inputs.
type Check interface {
	Name() string
	Layer() Layer
	Evaluate(a Artifact, c Context) Outcome
}

// File is one produced file as seen by the checks.
type File struct {
	Path    string
	Content string
}

// Artifact is the neutral representation of a crew output.
type Artifact struct {
	Kind        string
	Role        string
	Text        string
	Files       []File
	Structured  map[string]any
	Iterations  int
	Delegations []string
}

// Context describes what the artifact was supposed to be.
type Context struct {
	Phase            string
	Role             string
	Task             string
	AllowedRoot      string
	MaxIterations    int
	AllowedDelegates []string
	MinWords         int
	MaxWords         int
	ExpectedFields   []string
	TopicKeywords    []string
}

// LayerOutcome aggregates one layer of a report.
type LayerOutcome struct {
	Passed   bool `json:"passed"`
	Blocking bool `json:"blocking"`
	Failed   int  `json:"failed"`
}

// Report is the full pipeline outcome for one artifact.
type Report struct {
	Results []Result              `json:"results"`
	Layers  map[Layer]LayerOutcome `json:"layers"`
}

// Blocking reports whether any failed check carries blocking severity.
func (r Report) Blocking() bool {
	for _, res := range r.Results {
		if !res.Passed && res.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// Reasons returns "check: reason" for every blocking failure, in check order.
func (r Report) Reasons() []string {
	return r.collect(SeverityBlocking)
}

// Warnings returns "check: reason" for every informational failure.
func (r Report) Warnings() []string {
	return r.collect(SeverityInformational)
}

func (r Report) collect(sev Severity) []string {
	var out []string
	for _, res := range r.Results {
		if !res.Passed && res.Severity == sev {
			out = append(out, res.Check+": "+res.Reason)
		}
	}
	return out
}

// Options control severity resolution.
type Options struct {
	LayerModes     map[Layer]Mode
	AdvisoryChecks map[string]bool
}

// Pipeline runs checks in layer order.
type Pipeline struct {
	checks []Check
	opts   Options
}

// New builds a pipeline from the given checks, ordered by layer. Checks of
// the same layer keep their relative order.
func New(opts Options, checks ...Check) *Pipeline {
	cs := append([]Check(nil), checks...)
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Layer().order() < cs[j].Layer().order()
	})
	return &Pipeline{checks: cs, opts: opts}
}

// Default builds the pipeline with every built-in check.
func Default(opts Options) *Pipeline {
	return New(opts, DefaultChecks()...)
}

// DefaultChecks returns the built-in checks in layer order.
func DefaultChecks() []Check {
	var out []Check
	out = append(out, BehavioralChecks()...)
	out = append(out, SecurityChecks()...)
	out = append(out, QualityChecks()...)
	return out
}

// Checks returns the names of the configured checks in evaluation order.
func (p *Pipeline) Checks() []string {
	names := make([]string, len(p.checks))
	for i, c := range p.checks {
		names[i] = c.Name()
	}
	return names
}

// Run evaluates every check. It never stops early.
func (p *Pipeline) Run(a Artifact, c Context) Report {
	rep := Report{
		Results: make([]Result, 0, len(p.checks)),
		Layers:  make(map[Layer]LayerOutcome, len(Layers)),
	}
	for _, l := range Layers {
		rep.Layers[l] = LayerOutcome{Passed: true}
	}

	for _, chk := range p.checks {
		out := chk.Evaluate(a, c)
		res := Result{
			Check:    chk.Name(),
			Layer:    chk.Layer(),
			Passed:   out.Passed,
			Severity: SeverityInformational,
		}
		if !out.Passed {
			res.Reason = out.Reason
			if res.Reason == "" {
				res.Reason = "check failed"
			}
			res.Severity = p.severity(chk)
		}
		rep.Results = append(rep.Results, res)

		lo := rep.Layers[res.Layer]
		if !res.Passed {
			lo.Passed = false
			lo.Failed++
			if res.Severity == SeverityBlocking {
				lo.Blocking = true
			}
		}
		rep.Layers[res.Layer] = lo
	}
	return rep
}

// severity resolves a failed check's severity. Security failures are always
// blocking regardless of configuration.
func (p *Pipeline) severity(chk Check) Severity {
	if chk.Layer() == LayerSecurity {
		return SeverityBlocking
	}
	if p.opts.AdvisoryChecks[chk.Name()] {
		return SeverityInformational
	}
	if p.opts.LayerModes[chk.Layer()] == ModeAdvisory {
		return SeverityInformational
	}
	return SeverityBlocking
}

// checkFunc adapts a function into a Check.
type checkFunc struct {
	name  string
	layer Layer
	fn    func(Artifact, Context) Outcome
}

func (c checkFunc) Name() string                             { return c.name }
func (c checkFunc) Layer() Layer                             { return c.layer }
func (c checkFunc) Evaluate(a Artifact, ctx Context) Outcome { return c.fn(a, ctx) }

// NewCheck wraps fn as a named check.
func NewCheck(name string, layer Layer, fn func(Artifact, Context) Outcome) Check {
	return checkFunc{name: name, layer: layer, fn: fn}
}

// corpus collects the artifact text, file contents and structured string
// values for content scans, in a stable order.
func (a Artifact) corpus() []string {
	out := make([]string, 0, len(a.Files)+1)
	if a.Text != "" {
		out = append(out, a.Text)
	}
	for _, f := range a.Files {
		out = append(out, f.Content)
	}
	return appendStrings(out, a.Structured)
}

func appendStrings(out []string, v any) []string {
	switch t := v.(type) {
	case string:
		if t != "" {
			out = append(out, t)
		}
	case []string:
		for _, s := range t {
			out = appendStrings(out, s)
		}
	case []any:
		for _, e := range t {
			out = appendStrings(out, e)
		}
	case map[string]string:
		for _, k := range sortedKeys(t) {
			out = appendStrings(out, t[k])
		}
	case map[string]any:
		for _, k := range sortedKeys(t) {
			out = appendStrings(out, t[k])
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
