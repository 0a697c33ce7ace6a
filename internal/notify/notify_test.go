package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/crewflow/internal/metrics"
	"github.com/p-blackswan/crewflow/internal/project"
	"github.com/p-blackswan/crewflow/internal/retry"
)

type fakeSlack struct {
	fail     []error
	channels []string
}

func (f *fakeSlack) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.channels = append(f.channels, channelID)
	if len(f.fail) > 0 {
		err := f.fail[0]
		f.fail = f.fail[1:]
		return "", "", err
	}
	return channelID, "1234567890.123456", nil
}

type recorder struct {
	name string
	err  error
	got  []Outcome
}

func (r *recorder) Name() string { return r.name }
func (r *recorder) Notify(_ context.Context, o Outcome) error {
	r.got = append(r.got, o)
	return r.err
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func failedOutcome() Outcome {
	return Outcome{
		ProjectID:     "0123456789abcdef",
		Request:       "build a hello world CLI",
		Phase:         project.PhaseFailed,
		FailureKind:   "retry_budget_exhausted",
		FailureReason: "retry budget exhausted",
		Steps:         5,
		Duration:      1500 * time.Millisecond,
	}
}

func TestOutcome_Rendering(t *testing.T) {
	o := failedOutcome()
	assert.Equal(t, LevelCritical, o.Level())
	assert.Equal(t, "Project 01234567 failed (retry_budget_exhausted)", o.Title())
	assert.Contains(t, o.Message(), "Reason: retry budget exhausted")
	assert.Contains(t, o.Message(), "Steps: 5")

	done := Outcome{ProjectID: "p1", Phase: project.PhaseDone}
	assert.Equal(t, LevelInfo, done.Level())
	assert.Equal(t, "Project p1 finished in done", done.Title())

	done.Warnings = []string{"word_count: too short"}
	assert.Equal(t, LevelWarning, done.Level())
}

func TestOutcomeOf(t *testing.T) {
	s := project.New("req")
	s.MoveTo(project.PhaseFailed, "adapter timeout", time.Now())
	s.FailureKind = "adapter_timeout"

	o := OutcomeOf(s, time.Second)
	assert.Equal(t, s.ID, o.ProjectID)
	assert.Equal(t, 1, o.Steps)
	assert.Equal(t, "adapter_timeout", o.FailureKind)
}

func TestSlackNotifier_Posts(t *testing.T) {
	api := &fakeSlack{}
	n := NewSlackNotifier(api, "C123", zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), failedOutcome()))
	assert.Equal(t, []string{"C123"}, api.channels)
}

func TestSlackNotifier_RetriesRateLimit(t *testing.T) {
	api := &fakeSlack{fail: []error{&slack.RateLimitedError{RetryAfter: time.Millisecond}}}
	n := NewSlackNotifier(api, "C123", zerolog.Nop()).WithRetry(fastRetry())

	require.NoError(t, n.Notify(context.Background(), failedOutcome()))
	assert.Len(t, api.channels, 2)
}

func TestSlackNotifier_DoesNotRetryPermanent(t *testing.T) {
	api := &fakeSlack{fail: []error{errors.New("channel_not_found")}}
	n := NewSlackNotifier(api, "C404", zerolog.Nop()).WithRetry(fastRetry())

	err := n.Notify(context.Background(), failedOutcome())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
	assert.Len(t, api.channels, 1)
}

func TestMultiNotifier_CallsAllAndJoins(t *testing.T) {
	m := metrics.New()
	ok := &recorder{name: "ok"}
	bad := &recorder{name: "bad", err: errors.New("down")}
	multi := NewMultiNotifier(m, bad, nil, ok, NewLogNotifier(zerolog.Nop()))

	err := multi.Notify(context.Background(), failedOutcome())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, ok.got, 1)
	assert.Len(t, bad.got, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyTotal.WithLabelValues("bad", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyTotal.WithLabelValues("log", "ok")))
}

func TestLevelEmoji(t *testing.T) {
	assert.Equal(t, "🚨", levelEmoji(LevelCritical))
	assert.Equal(t, "⚠️", levelEmoji(LevelWarning))
	assert.Equal(t, "✅", levelEmoji(LevelInfo))
}
