package project

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/store"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	ds, err := store.New(filepath.Join(t.TempDir(), "projects.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return NewStore(ds, zerolog.Nop())
}

func TestStore_SaveGetRoundTrip(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	st := New("build a hello world CLI")
	st.ArchitectureDocument = &Document{Title: "CLI", TechStack: []string{"go"}}
	st.MoveTo(PhaseDevelopment, "architecture accepted", time.Now())
	require.NoError(t, s.Save(ctx, st))

	got, err := s.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
	assert.Equal(t, PhaseDevelopment, got.Phase)
	assert.Equal(t, "CLI", got.ArchitectureDocument.Title)
	assert.Len(t, got.History, 1)
}

func TestStore_GetUnknown(t *testing.T) {
	s := tempStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_SaveAppendsOnlyNewTransitions(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	st := New("r")
	st.MoveTo(PhaseDevelopment, "architecture accepted", time.Now())
	require.NoError(t, s.Save(ctx, st))
	require.NoError(t, s.Save(ctx, st))

	st.MoveTo(PhaseTesting, "code accepted", time.Now())
	st.MoveTo(PhaseFailed, "retry budget exhausted", time.Now())
	st.FailureKind = "retry_budget_exhausted"
	require.NoError(t, s.Save(ctx, st))

	ts, err := s.Transitions(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, ts, 3)
	assert.Equal(t, PhasePlanning, ts[0].From)
	assert.Equal(t, PhaseFailed, ts[2].To)
	assert.Equal(t, "retry budget exhausted", ts[2].Reason)
}

func TestStore_ListFiltersByPhase(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	running := New("a")
	done := New("b")
	done.MoveTo(PhaseDone, "packaging accepted", time.Now())
	require.NoError(t, s.Save(ctx, running))
	require.NoError(t, s.Save(ctx, done))

	all, err := s.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	finished, err := s.List(ctx, ListQuery{Phase: PhaseDone})
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, done.ID, finished[0].ID)
}

func TestStore_SaveRejectsEmpty(t *testing.T) {
	s := tempStore(t)
	assert.ErrorIs(t, s.Save(context.Background(), nil), apperrors.ErrInvalidInput)
}
