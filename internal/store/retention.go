package store

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy bounds how long finished data is kept.
type RetentionPolicy struct {
	FinishedProjects time.Duration
	Audit            time.Duration
}

// DefaultRetention keeps finished projects for 7 days and audit entries for 30.
var DefaultRetention = RetentionPolicy{
	FinishedProjects: 7 * 24 * time.Hour,
	Audit:            30 * 24 * time.Hour,
}

// RunRetention deletes finished project snapshots and audit entries older
// than the policy allows. Running projects are never removed.
func (s *Store) RunRetention(ctx context.Context, p RetentionPolicy) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var removed int64

	if p.FinishedProjects > 0 {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM projects WHERE phase IN ('done', 'failed') AND updated_at < ?",
			now.Add(-p.FinishedProjects).UnixMilli(),
		)
		if err != nil {
			return removed, fmt.Errorf("failed to delete old projects: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if p.Audit > 0 {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM audit_log WHERE created_at < ?",
			now.Add(-p.Audit).UnixMilli(),
		)
		if err != nil {
			return removed, fmt.Errorf("failed to delete old audit logs: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	return removed, nil
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pageCount * pageSize, nil
}
