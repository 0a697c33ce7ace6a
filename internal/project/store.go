package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/store"
)

// Store persists project snapshots and their transition history.
type Store struct {
	ds     *store.Store
	logger zerolog.Logger
}

// NewStore creates a new project store.
func NewStore(ds *store.Store, logger zerolog.Logger) *Store {
	return &Store{
		ds:     ds,
		logger: logger.With().Str("component", "project.store").Logger(),
	}
}

// Save upserts the snapshot and appends any history entries not yet persisted.
func (s *Store) Save(ctx context.Context, st *State) error {
	if st == nil || st.ID == "" {
		return fmt.Errorf("save project: %w", apperrors.ErrInvalidInput)
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode project %s: %w", st.ID, err)
	}

	err = s.ds.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, request, phase, state, failure_kind, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			state = excluded.state,
			failure_kind = excluded.failure_kind,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at
		`,
			st.ID, st.Request, string(st.Phase), string(payload),
			sql.NullString{String: st.FailureKind, Valid: st.FailureKind != ""},
			sql.NullString{String: st.FailureReason, Valid: st.FailureReason != ""},
			st.CreatedAt.UnixMilli(), st.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert: %w", err)
		}

		// History is append-only, so only the unseen tail needs writing.
		var persisted int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM project_transitions WHERE project_id = ?`, st.ID).Scan(&persisted); err != nil {
			return fmt.Errorf("count transitions: %w", err)
		}
		for i := persisted; i < len(st.History); i++ {
			t := st.History[i]
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO project_transitions (project_id, seq, from_phase, to_phase, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				st.ID, i+1, string(t.From), string(t.To), t.Reason, t.At.UnixMilli(),
			); err != nil {
				return fmt.Errorf("append transition %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save project %s: %w", st.ID, err)
	}
	s.logger.Debug().Str("project_id", st.ID).Str("phase", string(st.Phase)).Msg("snapshot saved")
	return nil
}

// Get loads the latest snapshot. Returns ErrNotFound if the id is unknown.
func (s *Store) Get(ctx context.Context, id string) (*State, error) {
	var payload string
	err := s.ds.Read(func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT state FROM projects WHERE id = ?`, id).Scan(&payload)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	return decodeState(payload)
}

// List returns snapshots, newest first.
func (s *Store) List(ctx context.Context, q ListQuery) ([]*State, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	query := `SELECT state FROM projects`
	var args []any
	if q.Phase != "" {
		query += ` WHERE phase = ?`
		args = append(args, string(q.Phase))
	}
	query += ` ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	var out []*State
	err := s.ds.Read(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				return err
			}
			st, err := decodeState(payload)
			if err != nil {
				return err
			}
			out = append(out, st)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

// Transitions returns the persisted history of a project in order.
func (s *Store) Transitions(ctx context.Context, id string) ([]Transition, error) {
	var out []Transition
	err := s.ds.Read(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT from_phase, to_phase, reason, created_at FROM project_transitions WHERE project_id = ? ORDER BY seq`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var from, to, reason string
			var at int64
			if err := rows.Scan(&from, &to, &reason, &at); err != nil {
				return err
			}
			out = append(out, Transition{From: Phase(from), To: Phase(to), Reason: reason, At: time.UnixMilli(at).UTC()})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("transitions of %s: %w", id, err)
	}
	return out, nil
}

func decodeState(payload string) (*State, error) {
	var st State
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return nil, fmt.Errorf("failed to decode project snapshot: %w", err)
	}
	if st.RetryCounters == nil {
		st.RetryCounters = make(map[LoopKey]int)
	}
	return &st, nil
}
