package inmemory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/barekit/tabletalk/pkg/knowledge"
)

type entry struct {
	note   knowledge.Note
	vector []float32
}

// Store is a brute-force cosine store for small note sets and tests.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

func (s *Store) Upsert(ctx context.Context, vectors [][]float32, notes []knowledge.Note) error {
	if len(vectors) != len(notes) {
		return fmt.Errorf("number of vectors and notes must match")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, n := range notes {
		s.entries[n.ID] = entry{note: n, vector: vectors[i]}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query []float32, limit int) ([]knowledge.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]knowledge.Note, 0, len(s.entries))
	for _, e := range s.entries {
		n := e.note
		n.Score = cosine(query, e.vector)
		hits = append(hits, n)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
