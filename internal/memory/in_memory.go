package memory

import (
	"context"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type stored struct {
	Record
	seq  uint64
	text string
}

// InMemoryStore is a process-local Backend. Safe for concurrent use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []*stored
	entity  map[string]*stored // projectID + "\x00" + key
	seq     uint64
	closed  bool
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entity: make(map[string]*stored)}
}

// Put appends a record, or upserts it for the entity scope.
func (m *InMemoryStore) Put(_ context.Context, r Record) error {
	if err := ValidateRecord(r); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Value = cloneValue(r.Value)
	r.Score = 0

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.seq++

	if r.Scope == ScopeEntity {
		k := r.ProjectID + "\x00" + r.Key
		if existing, ok := m.entity[k]; ok {
			r.ID = existing.ID
			existing.Record = r
			existing.seq = m.seq
			existing.text = strings.ToLower(searchText(r))
			return nil
		}
		s := &stored{Record: r, seq: m.seq, text: strings.ToLower(searchText(r))}
		m.entity[k] = s
		m.records = append(m.records, s)
		return nil
	}

	m.records = append(m.records, &stored{Record: r, seq: m.seq, text: strings.ToLower(searchText(r))})
	return nil
}

// Query snapshots the matching records and returns them as a sequence.
func (m *InMemoryStore) Query(_ context.Context, q Query) (iter.Seq[Record], error) {
	if err := ValidateQuery(q); err != nil {
		return nil, err
	}
	words := terms(q.Text)

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, errClosed
	}
	type hit struct {
		r     Record
		seq   uint64
		score float64
	}
	var hits []hit
	for _, s := range m.records {
		if s.Scope != q.Scope {
			continue
		}
		if projectScoped(q.Scope) && s.ProjectID != q.ProjectID {
			continue
		}
		if q.KeyPrefix != "" && !strings.HasPrefix(s.Key, q.KeyPrefix) {
			continue
		}
		score := 0.0
		for _, w := range words {
			score += float64(strings.Count(s.text, w))
		}
		if len(words) > 0 && score == 0 {
			continue
		}
		r := s.Record
		r.Value = cloneValue(s.Value)
		hits = append(hits, hit{r: r, seq: s.seq, score: score})
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if q.Rank == RankRelevance && len(words) > 0 && hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].seq > hits[j].seq
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	out := make([]Record, len(hits))
	for i, h := range hits {
		out[i] = h.r
		if q.Rank == RankRelevance && len(words) > 0 {
			out[i].Score = h.score
		}
	}
	return slices.Values(out), nil
}

// Ping reports whether the store is open.
func (m *InMemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return nil
}

// Close marks the store closed; later calls fail.
func (m *InMemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
