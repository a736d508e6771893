package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process brute force store for tests and local runs.
type MemoryStore struct {
	mu         sync.RWMutex
	dimensions int
	points     map[string]Point
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]Point)}
}

func (s *MemoryStore) EnsureCollection(_ context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("vectorstore: invalid dimensions %d", dimensions)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimensions != 0 && s.dimensions != dimensions {
		return fmt.Errorf("%w: memory store has %d, want %d", ErrDimensionMismatch, s.dimensions, dimensions)
	}
	s.dimensions = dimensions
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimensions == 0 {
		return ErrNotInitialized
	}
	for _, p := range points {
		if len(p.Vector) != s.dimensions {
			return fmt.Errorf("%w: point %s has %d, want %d", ErrDimensionMismatch, p.ID, len(p.Vector), s.dimensions)
		}
	}
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		s.points[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, vector []float32, filter Filter, limit int) ([]ScoredPoint, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []ScoredPoint
	for _, p := range s.points {
		if !filter.matches(p.Payload) {
			continue
		}
		hit := ScoredPoint{Point: p, Score: cosine(vector, p.Vector)}
		hit.Vector = nil
		hits = append(hits, hit)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemoryStore) Delete(_ context.Context, filter Filter) (int64, error) {
	if !filter.Scoped() {
		return 0, ErrUnscopedFilter
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.points {
		if filter.matches(p.Payload) {
			delete(s.points, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Scroll(_ context.Context, filter Filter, limit int, cursor string) ([]Point, string, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.points))
	for id, p := range s.points {
		if id > cursor && filter.matches(p.Payload) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	next := ""
	if len(ids) > limit {
		ids = ids[:limit]
		next = ids[limit-1]
	}
	out := make([]Point, len(ids))
	for i, id := range ids {
		p := s.points[id]
		p.Vector = nil
		out[i] = p
	}
	return out, next, nil
}

func (s *MemoryStore) Count(_ context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, p := range s.points {
		if filter.matches(p.Payload) {
			n++
		}
	}
	return n, nil
}
