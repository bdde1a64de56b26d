// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	loomerr "github.com/loomhq/loom/pkg/errors"
)

// InMemoryStore is a VectorStore held entirely in process memory, with
// brute-force cosine search. It backs tests and single-process setups where
// running a vector database is not worth it.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	vectorSize uint64
	points     map[string]Point
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{collections: make(map[string]*collection)}
}

// CreateCollection implements VectorStore.
func (s *InMemoryStore) CreateCollection(_ context.Context, name string, vectorSize uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil
	}
	s.collections[name] = &collection{
		vectorSize: vectorSize,
		points:     make(map[string]Point),
	}
	return nil
}

// Upsert implements VectorStore.
func (s *InMemoryStore) Upsert(_ context.Context, name string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		return loomerr.New(loomerr.CodeMemoryError, "collection does not exist", nil).
			WithContext("collection", name)
	}
	for _, p := range points {
		if uint64(len(p.Vector)) != col.vectorSize {
			return loomerr.New(loomerr.CodeMemoryError, "vector size mismatch", nil).
				WithContext("collection", name).
				WithContext("want", col.vectorSize).
				WithContext("got", len(p.Vector))
		}
		col.points[p.ID] = p
	}
	return nil
}

// Search implements VectorStore.
func (s *InMemoryStore) Search(_ context.Context, name string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[name]
	if !ok {
		return nil, loomerr.New(loomerr.CodeMemoryError, "collection does not exist", nil).
			WithContext("collection", name)
	}

	results := make([]SearchResult, 0, len(col.points))
	for _, p := range col.points {
		score := cosineSimilarity(vector, p.Vector)
		if scoreThreshold > 0 && score < scoreThreshold {
			continue
		}
		results = append(results, SearchResult{ID: p.ID, Score: score, Point: p})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float32 {
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
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ VectorStore = (*InMemoryStore)(nil)
