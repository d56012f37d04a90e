package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"neuralcraft/internal/domain"
	"neuralcraft/internal/vectorstore"
)

type entry struct {
	id     int64
	name   string
	vector []float32
}

// Storage is a simple in-memory vector index using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   []entry
	byID      map[int64]int
}

func NewStorage() *Storage { return &Storage{byID: make(map[int64]int)} }

// Index adds or replaces the element's vector.
func (s *Storage) Index(_ context.Context, el domain.Element) error {
	if len(el.Embedding) == 0 {
		return errors.New("element has no embedding")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		s.dimension = len(el.Embedding)
	}
	if len(el.Embedding) != s.dimension {
		return vectorstore.ErrDimensionMismatch
	}
	e := entry{id: el.ID, name: el.Name, vector: slices.Clone(el.Embedding)}
	if i, ok := s.byID[el.ID]; ok {
		s.entries[i] = e
		return nil
	}
	s.byID[el.ID] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

// Nearest returns up to limit elements with similarity >= minSimilarity,
// most similar first.
func (s *Storage) Nearest(_ context.Context, vector []float32, minSimilarity float64, limit int) ([]domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 1
	}
	if len(s.entries) == 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, vectorstore.ErrDimensionMismatch
	}
	matches := make([]domain.Match, 0, limit)
	for _, e := range s.entries {
		score, err := vectorstore.Cosine(e.vector, vector)
		if err != nil {
			return nil, err
		}
		if score < minSimilarity {
			continue
		}
		matches = append(matches, domain.Match{ElementID: e.id, Name: e.name, Similarity: score})
	}
	slices.SortStableFunc(matches, func(a, b domain.Match) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Len reports how many vectors are indexed.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear drops every vector and forgets the dimension.
func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = 0
	s.entries = nil
	s.byID = make(map[int64]int)
	return nil
}
