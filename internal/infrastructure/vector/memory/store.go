// Package memory is an in-process vector index for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

type collection struct {
	dimension int
	records   map[string]domain.VectorRecord
}

type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) EnsureCollection(_ context.Context, name string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil
	}
	s.collections[name] = &collection{dimension: dimension, records: make(map[string]domain.VectorRecord)}
	return nil
}

func (s *Store) Upsert(_ context.Context, name string, records []domain.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("collection %s does not exist", name)
	}
	for _, rec := range records {
		if len(rec.Vector) != c.dimension {
			return fmt.Errorf("vector dimension %d does not match collection dimension %d", len(rec.Vector), c.dimension)
		}
		c.records[rec.ID] = rec
	}
	return nil
}

func (s *Store) Query(_ context.Context, name string, vector []float32, limit int) ([]domain.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %s does not exist", name)
	}

	hits := make([]domain.VectorHit, 0, len(c.records))
	for _, rec := range c.records {
		hits = append(hits, domain.VectorHit{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Distance: 1 - cosineSimilarity(vector, rec.Vector),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance == hits[j].Distance {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Distance < hits[j].Distance
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *Store) DeleteDocument(_ context.Context, name, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	for id, rec := range c.records {
		if rec.Metadata["doc_id"] == docID {
			delete(c.records, id)
		}
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
