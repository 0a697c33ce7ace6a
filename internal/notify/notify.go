// Package notify tells humans how a project run ended.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/crewflow/internal/metrics"
	"github.com/p-blackswan/crewflow/internal/project"
)

// Level describes the urgency of a notification.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Outcome summarizes a finished run.
type Outcome struct {
	ProjectID     string
	Request       string
	Phase         project.Phase
	FailureKind   string
	FailureReason string
	Steps         int
	Duration      time.Duration
	Warnings      []string
}

// OutcomeOf builds the summary for a terminal state.
func OutcomeOf(s *project.State, d time.Duration) Outcome {
	return Outcome{
		ProjectID:     s.ID,
		Request:       s.Request,
		Phase:         s.Phase,
		FailureKind:   s.FailureKind,
		FailureReason: s.FailureReason,
		Steps:         len(s.History),
		Duration:      d,
		Warnings:      append([]string(nil), s.Warnings...),
	}
}

// Level maps the outcome to an urgency.
func (o Outcome) Level() Level {
	switch {
	case o.Phase == project.PhaseFailed:
		return LevelCritical
	case len(o.Warnings) > 0:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// Title is a one-line headline.
func (o Outcome) Title() string {
	if o.Phase == project.PhaseFailed {
		return fmt.Sprintf("Project %s failed (%s)", shortID(o.ProjectID), o.FailureKind)
	}
	return fmt.Sprintf("Project %s finished in %s", shortID(o.ProjectID), o.Phase)
}

// Message is the multi-line body shared by all notifiers.
func (o Outcome) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", truncate(o.Request, 200))
	fmt.Fprintf(&b, "Steps: %d, took %s", o.Steps, o.Duration.Round(time.Millisecond))
	if o.FailureReason != "" {
		fmt.Fprintf(&b, "\nReason: %s", o.FailureReason)
	}
	if len(o.Warnings) > 0 {
		fmt.Fprintf(&b, "\nWarnings: %d", len(o.Warnings))
	}
	return b.String()
}

// Notifier delivers run outcomes.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, o Outcome) error
}

// MultiNotifier fans out to multiple notifiers. Every notifier is called;
// failures are joined.
type MultiNotifier struct {
	notifiers []Notifier
	metrics   *metrics.Metrics
}

// NewMultiNotifier skips nil notifiers.
func NewMultiNotifier(m *metrics.Metrics, ns ...Notifier) *MultiNotifier {
	out := &MultiNotifier{metrics: m}
	for _, n := range ns {
		if n != nil {
			out.notifiers = append(out.notifiers, n)
		}
	}
	return out
}

func (m *MultiNotifier) Name() string { return "multi" }

func (m *MultiNotifier) Notify(ctx context.Context, o Outcome) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, o); err != nil {
			m.metrics.RecordNotify(n.Name(), "error")
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		m.metrics.RecordNotify(n.Name(), "ok")
	}
	return errors.Join(errs...)
}

// LogNotifier logs outcomes (useful for dev and the CLI).
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(_ context.Context, o Outcome) error {
	ev := l.logger.Info()
	if o.Level() == LevelCritical {
		ev = l.logger.Warn()
	}
	ev.Str("project_id", o.ProjectID).
		Str("phase", string(o.Phase)).
		Str("failure_kind", o.FailureKind).
		Str("reason", o.FailureReason).
		Int("steps", o.Steps).
		Dur("duration", o.Duration).
		Int("warnings", len(o.Warnings)).
		Msg(o.Title())
	return nil
}

func levelEmoji(l Level) string {
	switch l {
	case LevelCritical:
		return "🚨"
	case LevelWarning:
		return "⚠️"
	default:
		return "✅"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
