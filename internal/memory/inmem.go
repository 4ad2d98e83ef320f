package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a process-local Store used when no database is
// configured. Search ranks by token overlap with the query. Reads run
// concurrently; writes are serialized by the RW lock.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record // id -> record
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

// Add stores one record and returns its id
func (s *InMemoryStore) Add(_ context.Context, content, userID string, metadata map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.records[id] = &Record{
		ID:        id,
		UserID:    userID,
		Content:   content,
		Metadata:  cloneMeta(metadata),
		CreatedAt: time.Now(),
	}
	return id, nil
}

// Search returns up to topK records for userID ranked by token overlap
// with the query, recency breaking ties
func (s *InMemoryStore) Search(_ context.Context, query, userID string, topK int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queryTokens := tokenize(query)

	type scored struct {
		rec   Record
		score float64
	}
	var matches []scored
	for _, r := range s.records {
		if r.UserID != userID {
			continue
		}
		matches = append(matches, scored{rec: *r, score: overlap(queryTokens, tokenize(r.Content))})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].rec.CreatedAt.After(matches[j].rec.CreatedAt)
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}

	out := make([]Record, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.rec)
	}
	return out, nil
}

// Update rewrites the content (and optionally metadata) of one record
func (s *InMemoryStore) Update(_ context.Context, id, newContent string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	r.Content = newContent
	if metadata != nil {
		r.Metadata = cloneMeta(metadata)
	}
	return nil
}

// Delete removes exactly one record
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// Len reports the number of records (test helper)
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(s)) {
		t = strings.Trim(t, ".,;:!?\"'()[]{}")
		if len(t) > 2 {
			tokens[t] = true
		}
	}
	return tokens
}

func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for t := range a {
		if b[t] {
			common++
		}
	}
	return float64(common) / float64(len(a))
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Store = (*InMemoryStore)(nil)
