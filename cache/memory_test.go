package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(0, WithClock(clock.Now))
	defer store.Close()

	t.Run("get set", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrMiss)

		require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		ok, err := store.Exists(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expiry", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Second))
		require.NoError(t, store.Set(ctx, "forever", []byte("y"), 0))

		clock.Advance(2 * time.Second)

		_, err := store.Get(ctx, "short")
		assert.ErrorIs(t, err, ErrMiss)
		_, err = store.Get(ctx, "forever")
		assert.NoError(t, err)
	})

	t.Run("returned bytes are a copy", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "copy", []byte("abc"), 0))
		got, err := store.Get(ctx, "copy")
		require.NoError(t, err)
		got[0] = 'z'
		again, err := store.Get(ctx, "copy")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again)
	})

	t.Run("delete pattern", func(t *testing.T) {
		for _, key := range []string{"progress:u1:q1", "progress:u1:q2", "progress:u2:q1", "result:abc"} {
			require.NoError(t, store.Set(ctx, key, []byte("1"), time.Minute))
		}
		n, err := store.DeletePattern(ctx, "progress:u1:*")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		ok, _ := store.Exists(ctx, "progress:u2:q1")
		assert.True(t, ok)
		ok, _ = store.Exists(ctx, "result:abc")
		assert.True(t, ok)

		_, err = store.DeletePattern(ctx, "[")
		assert.Error(t, err)
	})

	t.Run("purge", func(t *testing.T) {
		s := NewMemoryStore(0, WithClock(clock.Now))
		require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
		require.NoError(t, s.Set(ctx, "b", []byte("1"), time.Hour))
		clock.Advance(time.Minute)
		s.purge()
		assert.Equal(t, 1, s.Len())
	})
}

func TestMemoryStoreCloseIsIdempotent(t *testing.T) {
	store := NewMemoryStore(time.Millisecond)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
