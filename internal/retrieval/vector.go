// Package retrieval finds curriculum content for normalized queries: vector
// search over subject collections with a distance gate, an LRU response
// cache, a lexical fallback index and the confidence scorer.
package retrieval

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Result is one retrieved content chunk. Distance is cosine distance to the
// query vector; lower is closer.
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Grade      string  `json:"grade,omitempty"`
	Collection string  `json:"collection"`
	Distance   float64 `json:"distance"`
}

// VectorStore is the vector index the engine searches. Query against a
// missing collection returns an empty slice, not an error.
type VectorStore interface {
	Query(ctx context.Context, collection string, vector []float32, k int) ([]Result, error)
	Collections(ctx context.Context) ([]string, error)
}

// Chunk is a content unit added to the in-memory store.
type Chunk struct {
	ID     string
	Text   string
	Source string
	Grade  string
	Vector []float32
}

// MemoryStore is an in-memory cosine-distance VectorStore, collection
// scoped. It backs tests and single-node deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Chunk
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Chunk)}
}

// Add inserts chunks into a collection, creating it on first use.
func (s *MemoryStore) Add(collection string, chunks ...Chunk) {
	s.mu.Lock()
	s.collections[collection] = append(s.collections[collection], chunks...)
	s.mu.Unlock()
}

// Collections lists the known collection names, sorted.
func (s *MemoryStore) Collections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Query returns the k nearest chunks in the collection by cosine distance.
// An unknown or empty collection yields an empty result.
func (s *MemoryStore) Query(_ context.Context, collection string, vector []float32, k int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := s.collections[collection]
	if len(chunks) == 0 || k <= 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, Result{
			ChunkID:    c.ID,
			Text:       c.Text,
			Source:     c.Source,
			Grade:      c.Grade,
			Collection: collection,
			Distance:   cosineDistance(vector, c.Vector),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// cosineDistance is 1 - cosine similarity, clamped to [0, 2]. Mismatched or
// zero vectors are treated as maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return 1 - sim
}

var _ VectorStore = (*MemoryStore)(nil)
