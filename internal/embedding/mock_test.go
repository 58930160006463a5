package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientDeterministic(t *testing.T) {
	m := NewMockClient(16)
	ctx := context.Background()

	a, err := m.Embed(ctx, "what is photosynthesis")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "what is photosynthesis")
	require.NoError(t, err)
	c, err := m.Embed(ctx, "what is gravity")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, int64(3), m.Calls())
}

func TestMockClientUnitNorm(t *testing.T) {
	m := NewMockClient(32)

	vec, err := m.Embed(context.Background(), "some text")
	require.NoError(t, err)
	require.Len(t, vec, 32)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 0.01)
}
