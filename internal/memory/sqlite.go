package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/retry"
)

var errClosed = fmt.Errorf("memory store closed: %w", apperrors.ErrUnavailable)

// SQLiteStore is a Backend on modernc SQLite with FTS5 relevance search.
// Writes are serialized through mu; readers run concurrently under WAL.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	retry  retry.Config
	mu     sync.Mutex
}

// connPragmas are applied by the driver to every pooled connection.
var connPragmas = []string{"busy_timeout(5000)", "journal_mode(WAL)"}

// pragmaDSN appends connPragmas to dsn as _pragma query parameters.
func pragmaDSN(dsn string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range connPragmas {
		b.WriteString(sep + "_pragma=" + p)
		sep = "&"
	}
	return b.String()
}

func isMemoryDSN(dsn string) bool {
	name, _, _ := strings.Cut(dsn, "?")
	return name == ":memory:" || name == "file::memory:" || strings.Contains(dsn, "mode=memory")
}

// NewSQLiteStore opens (or creates) the database and applies migrations.
func NewSQLiteStore(dsn string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", pragmaDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if isMemoryDSN(dsn) {
		// each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "memory.sqlite").Logger(),
		retry: retry.Config{
			MaxAttempts: 4,
			BaseDelay:   25 * time.Millisecond,
			MaxDelay:    500 * time.Millisecond,
			Jitter:      true,
			Retryable:   isBusy,
		},
	}
	s.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.logger.Debug().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("memory write busy, retrying")
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_records (
			seq        INTEGER PRIMARY KEY,
			id         TEXT NOT NULL UNIQUE,
			scope      TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			key        TEXT NOT NULL DEFAULT '',
			value      TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory_records(scope, project_id, seq);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_entity ON memory_records(project_id, key) WHERE scope = 'entity';

		CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
			id UNINDEXED,
			content,
			tokenize = 'porter unicode61'
		);

		CREATE TRIGGER IF NOT EXISTS memory_fts_insert
		AFTER INSERT ON memory_records BEGIN
			INSERT INTO memory_fts(id, content) VALUES (new.id, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS memory_fts_delete
		AFTER DELETE ON memory_records BEGIN
			DELETE FROM memory_fts WHERE id = old.id;
		END;

		CREATE TRIGGER IF NOT EXISTS memory_fts_update
		AFTER UPDATE ON memory_records BEGIN
			DELETE FROM memory_fts WHERE id = old.id;
			INSERT INTO memory_fts(id, content) VALUES (new.id, new.content);
		END;
	`)
	return err
}

// Put appends a record, or upserts on (project, key) for the entity scope.
// Writes that hit a locked database are retried with backoff.
func (s *SQLiteStore) Put(ctx context.Context, r Record) error {
	if err := ValidateRecord(r); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	value, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Errorf("encode memory value: %w", err)
	}
	content := searchText(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	err = retry.Do(ctx, s.retry, func(ctx context.Context) error {
		if r.Scope == ScopeEntity {
			// A fresh seq moves the updated entity to the front of recency order.
			_, err := s.db.ExecContext(ctx, `
				INSERT INTO memory_records (id, scope, project_id, key, value, content, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(project_id, key) WHERE scope = 'entity' DO UPDATE SET
					seq        = (SELECT COALESCE(MAX(seq), 0) + 1 FROM memory_records),
					value      = excluded.value,
					content    = excluded.content,
					created_at = excluded.created_at`,
				r.ID, string(r.Scope), r.ProjectID, r.Key, string(value), content, r.CreatedAt.UnixNano(),
			)
			return err
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO memory_records (id, scope, project_id, key, value, content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, string(r.Scope), r.ProjectID, r.Key, string(value), content, r.CreatedAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	s.logger.Debug().Str("id", r.ID).Str("scope", string(r.Scope)).Str("key", r.Key).Msg("memory saved")
	return nil
}

// Query returns a lazy sequence: the SQL runs each time the sequence is
// iterated, so iterating twice yields the same records for unchanged data.
func (s *SQLiteStore) Query(ctx context.Context, q Query) (iter.Seq[Record], error) {
	if err := ValidateQuery(q); err != nil {
		return nil, err
	}
	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}

	return func(yield func(Record) bool) {
		records, err := s.load(ctx, q)
		if err != nil {
			s.logger.Warn().Err(err).Str("scope", string(q.Scope)).Msg("memory query failed during iteration")
			return
		}
		for _, r := range records {
			if !yield(r) {
				return
			}
		}
	}, nil
}

func (s *SQLiteStore) load(ctx context.Context, q Query) ([]Record, error) {
	where := []string{"r.scope = ?"}
	args := []any{string(q.Scope)}
	if projectScoped(q.Scope) {
		where = append(where, "r.project_id = ?")
		args = append(args, q.ProjectID)
	}
	if q.KeyPrefix != "" {
		where = append(where, "r.key LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(q.KeyPrefix)+"%")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	words := terms(q.Text)
	if len(words) == 0 {
		return s.scan(ctx, false, `
			SELECT r.id, r.scope, r.project_id, r.key, r.value, r.created_at, 0
			FROM memory_records r
			WHERE `+strings.Join(where, " AND ")+`
			ORDER BY r.seq DESC
			LIMIT ?`, append(args, limit)...)
	}

	order := "r.seq DESC"
	if q.Rank == RankRelevance {
		order = "score DESC, r.seq DESC"
	}
	ftsArgs := append([]any{ftsQuery(words)}, args...)
	records, err := s.scan(ctx, q.Rank == RankRelevance, `
		SELECT r.id, r.scope, r.project_id, r.key, r.value, r.created_at, -bm25(memory_fts) AS score
		FROM memory_fts
		JOIN memory_records r ON r.id = memory_fts.id
		WHERE memory_fts MATCH ? AND `+strings.Join(where, " AND ")+`
		ORDER BY `+order+`
		LIMIT ?`, append(ftsArgs, limit)...)
	if err == nil {
		return records, nil
	}

	// Fall back to LIKE matching if FTS rejects the query.
	s.logger.Debug().Err(err).Msg("fts query failed, falling back to LIKE")
	var likes []string
	for _, w := range words {
		likes = append(likes, "LOWER(r.content) LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(w)+"%")
	}
	where = append(where, "("+strings.Join(likes, " OR ")+")")
	return s.scan(ctx, false, `
		SELECT r.id, r.scope, r.project_id, r.key, r.value, r.created_at, 0
		FROM memory_records r
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY r.seq DESC
		LIMIT ?`, append(args, limit)...)
}

func (s *SQLiteStore) scan(ctx context.Context, scored bool, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var scope, value string
		var created int64
		var score float64
		if err := rows.Scan(&r.ID, &scope, &r.ProjectID, &r.Key, &value, &created, &score); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		r.Scope = Scope(scope)
		r.CreatedAt = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(value), &r.Value); err != nil {
			return nil, fmt.Errorf("decode memory value: %w", err)
		}
		if scored {
			r.Score = score
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func ftsQuery(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
