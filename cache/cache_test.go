package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-price-compare/config"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[[]string](8, time.Minute)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []string{"a", "b"}))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, v)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Len())
}

type basket map[string][]string

func (b basket) Clone() basket {
	out := make(basket, len(b))
	for k, v := range b {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func TestMemoryCopiesClonableValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[basket](8, time.Minute)

	stored := basket{"jumia": {"a14"}}
	require.NoError(t, c.Set(ctx, "k", stored))
	stored["jumia"][0] = "set-side edit"

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	got["jumia"][0] = "get-side edit"
	got["jiji"] = []string{"extra"}

	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, basket{"jumia": {"a14"}}, again)
}

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[int](8, 20*time.Millisecond)
	require.NoError(t, c.Set(ctx, "k", 1))

	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[int](2, time.Minute)
	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))
	require.NoError(t, c.Set(ctx, "c", 3))

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	none, err := New[int](ctx, config.CacheConfig{Type: "none"})
	require.NoError(t, err)
	require.NoError(t, none.Set(ctx, "k", 1))
	_, ok, err := none.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	mem, err := New[int](ctx, config.CacheConfig{Type: "memory", Size: 4, TTL: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, &Memory[int]{}, mem)

	_, err = New[int](ctx, config.CacheConfig{Type: "disk"})
	assert.Error(t, err)

	_, err = New[int](ctx, config.CacheConfig{Type: "redis", RedisURL: "not-a-url"})
	assert.ErrorContains(t, err, "parse redis url")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "samsung a14|jiji,jumia|2", Key(" Samsung A14 ", "jiji,jumia", "2"))
}
