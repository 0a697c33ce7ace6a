package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
)

func backends(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"in_memory": func(t *testing.T) Backend {
			s := NewInMemoryStore()
			t.Cleanup(func() { s.Close() })
			return s
		},
		"sqlite": func(t *testing.T) Backend {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"sqlite_in_memory": func(t *testing.T) Backend {
			s, err := NewSQLiteStore(":memory:", zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func collect(t *testing.T, b Backend, q Query) []Record {
	t.Helper()
	seq, err := b.Query(context.Background(), q)
	require.NoError(t, err)
	return slices.Collect(seq)
}

func keys(rs []Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Key
	}
	return out
}

func TestBackend_ShortTermIsolation(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()
			require.NoError(t, b.Put(ctx, Record{Scope: ScopeShortTerm, ProjectID: "A", Key: "fact", Value: map[string]any{"v": "x"}}))

			assert.Empty(t, collect(t, b, Query{Scope: ScopeShortTerm, ProjectID: "B"}))
			assert.Empty(t, collect(t, b, Query{Scope: ScopeShortTerm}))

			got := collect(t, b, Query{Scope: ScopeShortTerm, ProjectID: "A"})
			require.Len(t, got, 1)
			assert.Equal(t, "x", got[0].Value["v"])
			assert.Equal(t, "A", got[0].ProjectID)
		})
	}
}

func TestBackend_LongTermIsGlobal(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()
			require.NoError(t, b.Put(ctx, Record{Scope: ScopeLongTerm, Key: "pattern", Value: map[string]any{"lesson": "prefer sqlite for demos"}}))

			got := collect(t, b, Query{Scope: ScopeLongTerm, ProjectID: "anything"})
			require.Len(t, got, 1)
			assert.Empty(t, got[0].ProjectID)
		})
	}
}

func TestBackend_EntityUpsert(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()
			require.NoError(t, b.Put(ctx, Record{Scope: ScopeEntity, ProjectID: "P", Key: "stack", Value: map[string]any{"lang": "python"}}))
			require.NoError(t, b.Put(ctx, Record{Scope: ScopeEntity, ProjectID: "P", Key: "stack", Value: map[string]any{"lang": "go"}}))
			require.NoError(t, b.Put(ctx, Record{Scope: ScopeEntity, ProjectID: "Q", Key: "stack", Value: map[string]any{"lang": "rust"}}))

			got := collect(t, b, Query{Scope: ScopeEntity, ProjectID: "P", KeyPrefix: "stack"})
			require.Len(t, got, 1)
			assert.Equal(t, "go", got[0].Value["lang"])
		})
	}
}

func TestBackend_AppendOnlyRecencyOrder(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()
			base := time.Now().UTC()
			for i, k := range []string{"first", "second", "third"} {
				require.NoError(t, b.Put(ctx, Record{Scope: ScopeShortTerm, ProjectID: "P", Key: k, CreatedAt: base.Add(time.Duration(i) * time.Millisecond)}))
			}
			require.NoError(t, b.Put(ctx, Record{Scope: ScopeShortTerm, ProjectID: "P", Key: "first"}))

			got := collect(t, b, Query{Scope: ScopeShortTerm, ProjectID: "P"})
			assert.Equal(t, []string{"first", "third", "second", "first"}, keys(got))

			limited := collect(t, b, Query{Scope: ScopeShortTerm, ProjectID: "P", Limit: 2})
			assert.Equal(t, []string{"first", "third"}, keys(limited))
		})
	}
}

func TestBackend_RelevanceRanking(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()
			require.NoError(t, b.Put(ctx, Record{Scope: ScopeLongTerm, Key: "deploy", Value: map[string]any{"note": "container deployment with docker"}}))
			require.NoError(t, b.Put(ctx, Record{Scope: ScopeLongTerm, Key: "testing", Value: map[string]any{"note": "table driven tests catch regressions"}}))
			require.NoError(t, b.Put(ctx, Record{Scope: ScopeLongTerm, Key: "unrelated", Value: map[string]any{"note": "weather is nice"}}))

			got := collect(t, b, Query{Scope: ScopeLongTerm, Text: "docker", Rank: RankRelevance})
			require.Len(t, got, 1)
			assert.Equal(t, "deploy", got[0].Key)
			assert.Greater(t, got[0].Score, 0.0)

			recency := collect(t, b, Query{Scope: ScopeLongTerm, Text: "tests docker"})
			assert.ElementsMatch(t, []string{"deploy", "testing"}, keys(recency))
			for _, r := range recency {
				assert.Zero(t, r.Score)
			}
		})
	}
}

func TestBackend_SequenceIsRestartable(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()
			for _, k := range []string{"a", "b", "c"} {
				require.NoError(t, b.Put(ctx, Record{Scope: ScopeLongTerm, Key: k}))
			}
			seq, err := b.Query(ctx, Query{Scope: ScopeLongTerm})
			require.NoError(t, err)

			first := slices.Collect(seq)
			second := slices.Collect(seq)
			assert.Equal(t, keys(first), keys(second))
			assert.Len(t, first, 3)

			n := 0
			for range seq {
				n++
				break
			}
			assert.Equal(t, 1, n)
		})
	}
}

func TestBackend_ConcurrentProjects(t *testing.T) {
	const (
		projects = 16
		notes    = 8
		upserts  = 4
	)
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			errs := make(chan error, projects*(notes+upserts+1))
			for p := 0; p < projects; p++ {
				id := fmt.Sprintf("project-%02d", p)
				wg.Add(2)
				go func() {
					defer wg.Done()
					for i := 0; i < notes; i++ {
						errs <- b.Put(ctx, Record{Scope: ScopeShortTerm, ProjectID: id, Key: fmt.Sprintf("note-%d", i), Value: map[string]any{"owner": id}})
					}
					for i := 0; i < upserts; i++ {
						errs <- b.Put(ctx, Record{Scope: ScopeEntity, ProjectID: id, Key: "tech_stack", Value: map[string]any{"rev": fmt.Sprintf("rev-%d", i)}})
					}
					errs <- b.Put(ctx, Record{Scope: ScopeLongTerm, Key: "lesson:" + id, Value: map[string]any{"owner": id}})
				}()
				go func() {
					defer wg.Done()
					for i := 0; i < notes; i++ {
						seq, err := b.Query(ctx, Query{Scope: ScopeShortTerm, ProjectID: id, Text: "owner"})
						if !assert.NoError(t, err) {
							return
						}
						for r := range seq {
							assert.Equal(t, id, r.ProjectID)
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			for p := 0; p < projects; p++ {
				id := fmt.Sprintf("project-%02d", p)
				short := collect(t, b, Query{Scope: ScopeShortTerm, ProjectID: id})
				assert.Len(t, short, notes, id)
				for _, r := range short {
					assert.Equal(t, id, r.Value["owner"])
				}

				entity := collect(t, b, Query{Scope: ScopeEntity, ProjectID: id, KeyPrefix: "tech_stack"})
				require.Len(t, entity, 1, id)
				assert.Equal(t, fmt.Sprintf("rev-%d", upserts-1), entity[0].Value["rev"])
			}
			assert.Len(t, collect(t, b, Query{Scope: ScopeLongTerm}), projects)
		})
	}
}

func TestBackend_RejectsInvalid(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()
			assert.ErrorIs(t, b.Put(ctx, Record{Scope: ScopeShortTerm}), apperrors.ErrInvalidInput)
			assert.ErrorIs(t, b.Put(ctx, Record{Scope: ScopeEntity, ProjectID: "P"}), apperrors.ErrInvalidInput)
			assert.ErrorIs(t, b.Put(ctx, Record{Scope: ScopeLongTerm, ProjectID: "P"}), apperrors.ErrInvalidInput)
			assert.ErrorIs(t, b.Put(ctx, Record{Scope: "forever"}), apperrors.ErrInvalidInput)

			_, err := b.Query(ctx, Query{Scope: "forever"})
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestBackend_Ping(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			assert.NoError(t, b.Ping(context.Background()))
		})
	}
}

func TestInMemoryStore_ClosedFails(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), apperrors.ErrUnavailable)
	assert.Error(t, s.Put(context.Background(), Record{Scope: ScopeLongTerm}))
}

func TestSQLiteStore_PunctuationInQuery(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Record{Scope: ScopeLongTerm, Key: "loop", Value: map[string]any{"edge": "testing→development"}}))
	seq, err := s.Query(ctx, Query{Scope: ScopeLongTerm, Text: `"testing" AND (`, Rank: RankRelevance})
	require.NoError(t, err)
	assert.Len(t, slices.Collect(seq), 1)
}
