// Package orchestrator drives a project through its delivery phases. Each
// step invokes the phase's crew, validates the artifact through the
// guardrail pipeline, merges it into the project state, records memory and
// routes to the next phase using a data-driven transition table.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/crewflow/internal/crew"
	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/guardrail"
	"github.com/p-blackswan/crewflow/internal/memory"
	"github.com/p-blackswan/crewflow/internal/metrics"
	"github.com/p-blackswan/crewflow/internal/notify"
	"github.com/p-blackswan/crewflow/internal/project"
)

// Deps are the collaborators of an Orchestrator. Only Crews is required.
type Deps struct {
	Crews crew.Adapter

	// Checks replaces the built-in guardrail checks when non-nil.
	Checks []guardrail.Check

	// Transitions replaces DefaultTransitions(MaxRetries) when non-nil.
	Transitions []Transition

	Memory   *memory.Store
	Store    *project.Store
	Metrics  *metrics.Metrics
	Notifier notify.Notifier
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// Orchestrator runs projects. It holds no per-project state and is safe for
// concurrent use by many runs.
type Orchestrator struct {
	cfg         Config
	crews       crew.Adapter
	guardrails  *guardrail.Pipeline
	transitions []Transition
	memory      *memory.Store
	store       *project.Store
	metrics     *metrics.Metrics
	notifier    notify.Notifier
	logger      zerolog.Logger
	now         func() time.Time
}

// New builds an orchestrator. Configuration is validated by RunProject, so
// a bad config is reported to the caller before any phase executes.
func New(deps Deps, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	checks := deps.Checks
	if checks == nil {
		checks = guardrail.DefaultChecks()
	}
	table := deps.Transitions
	if table == nil {
		table = DefaultTransitions(cfg.MaxRetries)
	}
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		cfg:   cfg,
		crews: deps.Crews,
		guardrails: guardrail.New(guardrail.Options{
			LayerModes:     cfg.LayerModes,
			AdvisoryChecks: cfg.AdvisoryChecks,
		}, checks...),
		transitions: table,
		memory:      deps.Memory,
		store:       deps.Store,
		metrics:     deps.Metrics,
		notifier:    deps.Notifier,
		logger:      deps.Logger.With().Str("component", "orchestrator").Logger(),
		now:         now,
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Result is the outcome of RunProject.
type Result struct {
	FinalPhase project.Phase        `json:"final_phase" yaml:"final_phase"`
	State      *project.State       `json:"state" yaml:"state"`
	History    []project.Transition `json:"history" yaml:"history"`
}

// RunOption customizes a single run.
type RunOption func(*project.State)

// WithProjectID fixes the project ID instead of generating one.
func WithProjectID(id string) RunOption {
	return func(s *project.State) {
		if id != "" {
			s.ID = id
		}
	}
}

// RunProject executes a request end to end. It returns an error only for
// contract violations detected before the first phase runs; every other
// failure is reported through the terminal state.
func (o *Orchestrator) RunProject(ctx context.Context, request string, opts ...RunOption) (Result, error) {
	if err := o.cfg.Validate(); err != nil {
		return Result{}, err
	}
	if o.crews == nil {
		return Result{}, fmt.Errorf("%w: no crew adapter configured", apperrors.ErrInvalidConfig)
	}
	if r, ok := o.crews.(interface{ Missing() []project.Phase }); ok {
		if missing := r.Missing(); len(missing) > 0 {
			return Result{}, fmt.Errorf("%w: no crew for phases %v", apperrors.ErrInvalidConfig, missing)
		}
	}
	if strings.TrimSpace(request) == "" {
		return Result{}, fmt.Errorf("%w: empty request", apperrors.ErrInvalidInput)
	}

	s := project.New(request)
	for _, opt := range opts {
		opt(s)
	}
	s.CreatedAt = o.now()
	s.UpdatedAt = s.CreatedAt

	start := time.Now()
	o.metrics.RunStarted()
	o.persist(ctx, s)
	o.logger.Info().Str("project_id", s.ID).Msg("run started")

	final := o.Run(ctx, s)

	elapsed := time.Since(start)
	o.metrics.RunFinished(string(final.Phase), final.FailureKind, elapsed.Seconds())
	o.logger.Info().
		Str("project_id", final.ID).
		Str("phase", string(final.Phase)).
		Str("failure_kind", final.FailureKind).
		Int("steps", len(final.History)).
		Dur("elapsed", elapsed).
		Msg("run finished")

	if o.notifier != nil {
		nctx := context.WithoutCancel(ctx)
		if err := o.notifier.Notify(nctx, notify.OutcomeOf(final, elapsed)); err != nil {
			o.logger.Warn().Err(err).Str("project_id", final.ID).Msg("notification failed")
		}
	}

	return Result{
		FinalPhase: final.Phase,
		State:      final,
		History:    append([]project.Transition(nil), final.History...),
	}, nil
}

// Run advances s until it reaches a terminal phase, the context is
// cancelled, or the step ceiling is hit. The input state is never mutated.
func (o *Orchestrator) Run(ctx context.Context, s *project.State) *project.State {
	cur := s
	for steps := 0; !cur.Phase.IsTerminal(); steps++ {
		if ctx.Err() != nil {
			next := cur.Clone()
			o.fail(next, apperrors.ErrCancelled, apperrors.ErrCancelled.Error())
			o.persist(ctx, next)
			return next
		}
		if steps >= o.cfg.StepCeiling {
			next := cur.Clone()
			o.fail(next, apperrors.ErrStepCeilingExceeded,
				fmt.Sprintf("%s: %d steps", apperrors.ErrStepCeilingExceeded, o.cfg.StepCeiling))
			o.persist(ctx, next)
			return next
		}
		next, err := o.Advance(ctx, cur)
		if err != nil {
			// Advance only rejects nil or terminal input, which the loop
			// condition rules out.
			failed := cur.Clone()
			o.fail(failed, err, err.Error())
			o.persist(ctx, failed)
			return failed
		}
		cur = next
	}
	return cur
}

// Advance executes one step from the current phase and returns the new
// state. All changes are made on a clone; s is left untouched, so a caller
// never observes a partially applied step.
func (o *Orchestrator) Advance(ctx context.Context, s *project.State) (*project.State, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil state", apperrors.ErrInvalidInput)
	}
	if s.Phase.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTerminalState, s.Phase)
	}

	next := s.Clone()
	phase := next.Phase
	log := o.logger.With().Str("project_id", next.ID).Str("phase", string(phase)).Logger()
	start := time.Now()

	in := o.buildInput(ctx, next)
	adapter := crew.WithTimeout(o.crews, o.cfg.TimeoutFor(phase))
	art, err := adapter.Execute(ctx, phase, in)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			o.fail(next, apperrors.ErrCancelled, apperrors.ErrCancelled.Error())
		} else {
			ae := apperrors.AsAdapterError(string(phase), err)
			o.fail(next, ae, ae.Error())
		}
		log.Warn().Err(err).Str("failure_kind", next.FailureKind).Msg("crew failed")
		o.finishStep(ctx, next, phase, "failed", start)
		return next, nil
	}

	report := o.guardrails.Run(art.ForGuardrail(phase), o.cfg.contextFor(next))
	for _, r := range report.Results {
		if !r.Passed {
			o.metrics.RecordGuardrailFailure(string(r.Layer), r.Check, string(r.Severity))
		}
	}
	for _, w := range report.Warnings() {
		next.Warnings = append(next.Warnings, string(phase)+": "+w)
	}
	if report.Blocking() {
		violation := &apperrors.GuardrailViolation{Phase: string(phase), Reasons: report.Reasons()}
		o.fail(next, violation, strings.Join(violation.Reasons, "; "))
		log.Warn().Strs("reasons", violation.Reasons).Msg("guardrail blocked artifact")
		o.finishStep(ctx, next, phase, "failed", start)
		return next, nil
	}

	merge(next, phase, art)
	o.remember(ctx, next, phase, art)

	t, ok := route(o.transitions, next)
	if !ok {
		cause := fmt.Errorf("%w from %s", apperrors.ErrNoTransition, phase)
		o.fail(next, cause, cause.Error())
		log.Error().Msg("no transition matched")
		o.finishStep(ctx, next, phase, "failed", start)
		return next, nil
	}
	if t.Effect != nil {
		t.Effect(next)
	}
	next.MoveTo(t.To, t.Name, o.now())

	outcome := "advanced"
	switch {
	case t.To == project.PhaseFailed:
		outcome = "failed"
	case isLoopBack(phase, t.To):
		outcome = "loop_back"
		o.metrics.RecordLoopBack(string(project.Loop(phase, t.To)))
	}
	log.Info().Str("to", string(t.To)).Str("transition", t.Name).Msg("phase complete")
	o.finishStep(ctx, next, phase, outcome, start)
	return next, nil
}

func (o *Orchestrator) finishStep(ctx context.Context, s *project.State, phase project.Phase, outcome string, start time.Time) {
	o.metrics.RecordStep(string(phase), outcome, time.Since(start).Seconds())
	o.persist(ctx, s)
}

// fail moves s to Failed with a classified cause.
func (o *Orchestrator) fail(s *project.State, cause error, reason string) {
	s.FailureKind = apperrors.Kind(cause)
	s.FailureReason = reason
	s.MoveTo(project.PhaseFailed, reason, o.now())
}

// persist saves a snapshot when a store is configured. Snapshots are
// written even after the run context was cancelled.
func (o *Orchestrator) persist(ctx context.Context, s *project.State) {
	if o.store == nil {
		return
	}
	if err := o.store.Save(context.WithoutCancel(ctx), s); err != nil {
		o.logger.Error().Err(err).Str("project_id", s.ID).Msg("saving project snapshot")
	}
}

func isLoopBack(from, to project.Phase) bool {
	order := func(p project.Phase) int {
		for i, v := range project.WorkPhases {
			if v == p {
				return i
			}
		}
		return len(project.WorkPhases)
	}
	return order(to) < order(from)
}
