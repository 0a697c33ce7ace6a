package memory

import (
	"context"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/health"
	"github.com/p-blackswan/crewflow/internal/metrics"
)

// Store is the boundary the orchestrator talks to. It never surfaces
// backend errors: failed writes are logged and counted, failed reads yield
// an empty sequence. Memory is an enrichment, not a dependency of a run.
type Store struct {
	backend Backend
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics counts swallowed failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore wraps a backend.
func NewStore(b Backend, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		backend: b,
		logger:  logger.With().Str("component", "memory").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Put stores a record. ID and CreatedAt are filled when empty.
func (s *Store) Put(ctx context.Context, r Record) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if err := s.backend.Put(ctx, r); err != nil {
		s.metrics.RecordMemoryError("put")
		s.logger.Warn().
			Err(err).
			AnErr("cause", apperrors.ErrMemoryUnavailable).
			Str("scope", string(r.Scope)).
			Str("project_id", r.ProjectID).
			Str("key", r.Key).
			Msg("memory write dropped")
	}
}

// ShortTerm records a note visible only to the project.
func (s *Store) ShortTerm(ctx context.Context, projectID, key string, value map[string]any) {
	s.Put(ctx, Record{Scope: ScopeShortTerm, ProjectID: projectID, Key: key, Value: value})
}

// LongTerm records a pattern shared across projects.
func (s *Store) LongTerm(ctx context.Context, key string, value map[string]any) {
	s.Put(ctx, Record{Scope: ScopeLongTerm, Key: key, Value: value})
}

// Entity upserts a fact about the project under key.
func (s *Store) Entity(ctx context.Context, projectID, key string, value map[string]any) {
	s.Put(ctx, Record{Scope: ScopeEntity, ProjectID: projectID, Key: key, Value: value})
}

// Query returns matching records, or an empty sequence if the backend fails.
func (s *Store) Query(ctx context.Context, q Query) iter.Seq[Record] {
	seq, err := s.backend.Query(ctx, q)
	if err != nil {
		s.metrics.RecordMemoryError("query")
		s.logger.Warn().
			Err(err).
			AnErr("cause", apperrors.ErrMemoryUnavailable).
			Str("scope", string(q.Scope)).
			Msg("memory query degraded to empty")
		return func(func(Record) bool) {}
	}
	return seq
}

// Collect runs q and materializes at most q.Limit records.
func (s *Store) Collect(ctx context.Context, q Query) []Record {
	return slices.Collect(s.Query(ctx, q))
}

// Ping probes the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// HealthCheck adapts Ping for the health checker. A failing memory store
// degrades the service without taking it down.
func (s *Store) HealthCheck() health.CheckFunc {
	return func(ctx context.Context) health.Status {
		if err := s.backend.Ping(ctx); err != nil {
			return health.StatusDegraded
		}
		return health.StatusOK
	}
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
