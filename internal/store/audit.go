package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64
	Actor     string
	Action    string
	Resource  string
	Result    string
	Details   string
	CreatedAt int64 // unix ms
}

// LogAudit appends an entry to the audit log.
func (s *Store) LogAudit(ctx context.Context, actor, action, resource, result, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, resource, result, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		actor, action,
		sql.NullString{String: resource, Valid: resource != ""},
		result,
		sql.NullString{String: details, Valid: details != ""},
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// RecentAudit returns the newest audit entries first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, resource, result, details, created_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var resource, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &resource, &e.Result, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Resource = resource.String
		e.Details = details.String
		out = append(out, e)
	}
	return out, rows.Err()
}
