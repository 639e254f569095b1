package memory

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

type storedVector struct {
	values []float32
	norm   float64
}

// EmbeddingIndex holds per-item vectors in memory and answers brute-force
// cosine-similarity queries. Item counts are assumed to fit comfortably in
// memory, so no approximate structure is used.
type EmbeddingIndex struct {
	dim int

	mu      sync.RWMutex
	vectors map[string]storedVector
}

// NewEmbeddingIndex creates an index for vectors of the given dimension.
func NewEmbeddingIndex(dim int) (*EmbeddingIndex, error) {
	if dim <= 0 {
		return nil, &ConfigError{Field: "embedding_dim", Reason: "must be positive"}
	}
	return &EmbeddingIndex{
		dim:     dim,
		vectors: make(map[string]storedVector),
	}, nil
}

// Dimension returns the configured vector dimension.
func (ix *EmbeddingIndex) Dimension() int { return ix.dim }

// Index stores a vector for id. A dimension mismatch is a configuration
// error, never silently truncated.
func (ix *EmbeddingIndex) Index(id string, vec []float32) error {
	if len(vec) != ix.dim {
		return &ConfigError{
			Field:  "embedding",
			Reason: fmt.Sprintf("dimension %d does not match index dimension %d", len(vec), ix.dim),
		}
	}

	stored := storedVector{values: make([]float32, len(vec))}
	copy(stored.values, vec)
	stored.norm = l2norm(stored.values)

	ix.mu.Lock()
	ix.vectors[id] = stored
	ix.mu.Unlock()
	return nil
}

// Remove deletes the stored vector for id, if any.
func (ix *EmbeddingIndex) Remove(id string) {
	ix.mu.Lock()
	delete(ix.vectors, id)
	ix.mu.Unlock()
}

// Search returns up to topK hits descending by cosine similarity against
// the query vector. Similarity involving a zero-norm vector is defined as
// 0, never NaN.
func (ix *EmbeddingIndex) Search(query []float32, topK int) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, &ConfigError{
			Field:  "query_embedding",
			Reason: fmt.Sprintf("dimension %d does not match index dimension %d", len(query), ix.dim),
		}
	}
	if topK <= 0 {
		return nil, nil
	}

	queryNorm := l2norm(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]Hit, 0, len(ix.vectors))
	for id, stored := range ix.vectors {
		hits = append(hits, Hit{ID: id, Score: cosine(query, queryNorm, stored)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len returns the number of stored vectors.
func (ix *EmbeddingIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

func cosine(query []float32, queryNorm float64, stored storedVector) float64 {
	if queryNorm == 0 || stored.norm == 0 {
		return 0
	}
	var dot float64
	for i, v := range query {
		dot += float64(v) * float64(stored.values[i])
	}
	return dot / (queryNorm * stored.norm)
}

func l2norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
