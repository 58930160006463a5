package retrieval

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCapacityIsExact(t *testing.T) {
	c := newLRUCache[int](128)

	for i := 0; i < 128; i++ {
		c.Put(fmt.Sprintf("key-%d", i), i)
	}
	require.Equal(t, 128, c.Len())

	// One more distinct key evicts exactly the least recently used entry.
	c.Put("key-128", 128)
	assert.Equal(t, 128, c.Len())
	assert.False(t, c.Contains("key-0"))
	for i := 1; i <= 128; i++ {
		assert.True(t, c.Contains(fmt.Sprintf("key-%d", i)), "key-%d should survive", i)
	}
}

func TestLRURecency(t *testing.T) {
	c := newLRUCache[string](2)

	c.Put("a", "1")
	c.Put("b", "2")

	// Touching a makes b the eviction victim.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", "3")
	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestLRUUpdateDoesNotEvict(t *testing.T) {
	c := newLRUCache[int](2)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10)

	assert.Equal(t, 2, c.Len())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestLRUInvalidate(t *testing.T) {
	c := newLRUCache[int](4)
	c.Put("a", 1)
	c.Put("b", 2)

	c.Invalidate()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}
