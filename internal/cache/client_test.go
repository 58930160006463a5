package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDeterministic(t *testing.T) {
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
	assert.NotEqual(t, Key("a", "b"), Key("b", "a"))
	assert.NotEqual(t, Key("a", "b"), Key("ab"))
}

func TestMemoryClientRoundTrip(t *testing.T) {
	c := NewMemoryClient(10)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientTTL(t *testing.T) {
	c := NewMemoryClient(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientBounded(t *testing.T) {
	c := NewMemoryClient(3)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))
	require.NoError(t, c.Set(ctx, "d", []byte("4"), 0))

	held := 0
	for _, k := range []string{"a", "b", "c", "d"} {
		if _, err := c.Get(ctx, k); err == nil {
			held++
		}
	}
	assert.Equal(t, 3, held)
}

func TestMemoryClientPubSub(t *testing.T) {
	c := NewMemoryClient(10)
	ctx := context.Background()

	msgs, stop, err := c.Subscribe(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "events", []byte("ping")))
	select {
	case msg := <-msgs:
		assert.Equal(t, []byte("ping"), msg)
	case <-time.After(time.Second):
		t.Fatal("expected a published message")
	}

	stop()
	require.NoError(t, c.Publish(ctx, "events", []byte("after-stop")))
	select {
	case msg := <-msgs:
		t.Fatalf("unexpected message after unsubscribe: %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
