package memory

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/crewflow/internal/health"
	"github.com/p-blackswan/crewflow/internal/metrics"
)

type failingBackend struct{ err error }

func (f failingBackend) Put(context.Context, Record) error { return f.err }
func (f failingBackend) Query(context.Context, Query) (iter.Seq[Record], error) {
	return nil, f.err
}
func (f failingBackend) Ping(context.Context) error { return f.err }
func (f failingBackend) Close() error               { return nil }

func TestStore_SwallowsBackendErrors(t *testing.T) {
	m := metrics.New()
	s := NewStore(failingBackend{err: errors.New("disk on fire")}, zerolog.Nop(), WithMetrics(m))
	ctx := context.Background()

	assert.NotPanics(t, func() {
		s.ShortTerm(ctx, "P", "summary", map[string]any{"text": "x"})
		s.LongTerm(ctx, "pattern", nil)
		s.Entity(ctx, "P", "stack", nil)
	})
	assert.Empty(t, s.Collect(ctx, Query{Scope: ScopeLongTerm}))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.MemoryErrorsTotal.WithLabelValues("put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryErrorsTotal.WithLabelValues("query")))
	assert.Equal(t, health.StatusDegraded, s.HealthCheck()(ctx))
}

func TestStore_FillsIDAndTimestamp(t *testing.T) {
	backend := NewInMemoryStore()
	s := NewStore(backend, zerolog.Nop())
	ctx := context.Background()

	s.ShortTerm(ctx, "P", "planning.summary", map[string]any{"title": "CLI"})
	got := s.Collect(ctx, Query{Scope: ScopeShortTerm, ProjectID: "P"})
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())
	assert.Equal(t, health.StatusOK, s.HealthCheck()(ctx))
	assert.NoError(t, s.Ping(ctx))
}

func TestStore_InvalidRecordIsDropped(t *testing.T) {
	s := NewStore(NewInMemoryStore(), zerolog.Nop())
	ctx := context.Background()

	s.Put(ctx, Record{Scope: ScopeShortTerm, Key: "orphan"})
	assert.Empty(t, s.Collect(ctx, Query{Scope: ScopeShortTerm}))
}
