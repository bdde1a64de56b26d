// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides the vector-store and embedder abstractions used
// for retrieval-augmented generation.
package memory

import "context"

// VectorStore is a vector database holding embedded documents grouped in
// named collections.
type VectorStore interface {
	// CreateCollection creates a collection sized for the embedder's
	// vectors. Creating an existing collection is not an error.
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	// Upsert adds or replaces points by ID.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns up to limit points nearest to vector, filtered by
	// scoreThreshold (0 disables the filter).
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
}

// Point is one embedded document chunk.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// SearchResult pairs a matched point with its similarity score.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Point Point   `json:"point"`
}

// Embedder converts text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
