package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync/atomic"
)

// MockClient derives deterministic unit vectors from a hash of the text.
// Identical inputs always map to identical vectors, so cache behavior can
// be asserted via the call counter.
type MockClient struct {
	dimension int
	calls     atomic.Int64
}

// NewMockClient builds a MockClient with the given dimension.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 16
	}
	return &MockClient{dimension: dimension}
}

// Dimension returns the mock vector dimension.
func (m *MockClient) Dimension() int { return m.dimension }

// Calls reports how many times Embed was invoked.
func (m *MockClient) Calls() int64 { return m.calls.Load() }

// Embed returns a unit vector derived from the text hash.
func (m *MockClient) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls.Add(1)

	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, m.dimension)
	var norm float64
	for i := range vec {
		chunk := seed[(i*4)%len(seed) : (i*4)%len(seed)+4]
		v := float64(binary.BigEndian.Uint32(chunk))/math.MaxUint32 - 0.5
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

var _ Embedder = (*MockClient)(nil)
var _ Embedder = (*Client)(nil)
