// Package memory stores facts that outlive a single phase: short-term notes
// scoped to one project, long-term patterns shared by every project, and
// entity facts upserted per project and key.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
)

// Scope partitions memory records.
type Scope string

const (
	ScopeShortTerm Scope = "short_term"
	ScopeLongTerm  Scope = "long_term"
	ScopeEntity    Scope = "entity"
)

// Valid reports whether s is a declared scope.
func (s Scope) Valid() bool {
	return s == ScopeShortTerm || s == ScopeLongTerm || s == ScopeEntity
}

// Rank selects result ordering.
type Rank int

const (
	RankRecency Rank = iota
	RankRelevance
)

// Record is one stored memory.
type Record struct {
	ID        string         `json:"id"`
	Scope     Scope          `json:"scope"`
	ProjectID string         `json:"project_id,omitempty"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	CreatedAt time.Time      `json:"created_at"`

	// Score is set only for relevance-ranked results.
	Score float64 `json:"score,omitempty"`
}

// Query selects records of one scope.
type Query struct {
	Scope     Scope
	ProjectID string
	KeyPrefix string
	Text      string
	Rank      Rank
	Limit     int
}

// Backend is a memory persistence implementation. Query returns a finite
// sequence that can be iterated more than once.
type Backend interface {
	Put(ctx context.Context, r Record) error
	Query(ctx context.Context, q Query) (iter.Seq[Record], error)
	Ping(ctx context.Context) error
	Close() error
}

// ValidateRecord enforces the scope rules: short-term and entity records
// belong to a project, long-term records to none, entity records need a key.
func ValidateRecord(r Record) error {
	switch r.Scope {
	case ScopeShortTerm:
		if r.ProjectID == "" {
			return fmt.Errorf("short_term record requires a project id: %w", apperrors.ErrInvalidInput)
		}
	case ScopeEntity:
		if r.ProjectID == "" || r.Key == "" {
			return fmt.Errorf("entity record requires project id and key: %w", apperrors.ErrInvalidInput)
		}
	case ScopeLongTerm:
		if r.ProjectID != "" {
			return fmt.Errorf("long_term record must not carry a project id: %w", apperrors.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("unknown scope %q: %w", r.Scope, apperrors.ErrInvalidInput)
	}
	return nil
}

// ValidateQuery rejects queries without a valid scope.
func ValidateQuery(q Query) error {
	if !q.Scope.Valid() {
		return fmt.Errorf("unknown scope %q: %w", q.Scope, apperrors.ErrInvalidInput)
	}
	if q.Limit < 0 {
		return fmt.Errorf("negative limit: %w", apperrors.ErrInvalidInput)
	}
	return nil
}

// projectScoped reports whether records of the scope are isolated per project.
func projectScoped(s Scope) bool {
	return s == ScopeShortTerm || s == ScopeEntity
}

// searchText flattens key and value into the text that queries match against.
// Map keys are sorted so the result is stable.
func searchText(r Record) string {
	var b strings.Builder
	b.WriteString(r.Key)
	keys := make([]string, 0, len(r.Value))
	for k := range r.Value {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte(' ')
		switch v := r.Value[k].(type) {
		case string:
			b.WriteString(v)
		default:
			raw, _ := json.Marshal(v)
			b.Write(raw)
		}
	}
	return b.String()
}

// terms splits query text into lowercase search terms.
func terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '_' || r == '-' || r == '.' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r > 127)
	})
}

func cloneValue(v map[string]any) map[string]any {
	if v == nil {
		return nil
	}
	out := make(map[string]any, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}
