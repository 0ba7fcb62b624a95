package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute, MaxItems: 10})
	defer c.Close()
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "k", []byte("v"), 0)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	c.Delete(ctx, "k")
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryExpiry(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute, MaxItems: 10})
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok, "expired entry must read as a miss")
}

func TestMemoryMaxItems(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute, MaxItems: 2})
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), 0)
	c.Set(ctx, "b", []byte("2"), 0)
	c.Set(ctx, "c", []byte("3"), 0)

	count := 0
	for _, k := range []string{"a", "b", "c"} {
		if _, ok := c.Get(ctx, k); ok {
			count++
		}
	}
	assert.LessOrEqual(t, count, 2)
}

func TestCounters(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	ctx := context.Background()

	assert.EqualValues(t, 0, c.Counter(ctx, "n"))
	assert.EqualValues(t, 1, c.Incr(ctx, "n"))
	assert.EqualValues(t, 2, c.Incr(ctx, "n"))
	assert.EqualValues(t, 2, c.Counter(ctx, "n"))
}

func TestVersionedInvalidation(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	ctx := context.Background()

	v := NewVersioned(c, "catalog", time.Minute)

	key1 := v.Key(ctx, "tenant-1", "products", "all")
	v.SetJSON(ctx, key1, []string{"shirt"})

	var out []string
	require.True(t, v.GetJSON(ctx, v.Key(ctx, "tenant-1", "products", "all"), &out))
	assert.Equal(t, []string{"shirt"}, out)

	// A bump makes every key minted for the subject unreachable.
	v.Bump(ctx, "tenant-1")
	assert.False(t, v.GetJSON(ctx, v.Key(ctx, "tenant-1", "products", "all"), &out))

	// Other subjects are unaffected.
	other := v.Key(ctx, "tenant-2", "products", "all")
	v.SetJSON(ctx, other, []string{"mug"})
	require.True(t, v.GetJSON(ctx, v.Key(ctx, "tenant-2", "products", "all"), &out))
	assert.Equal(t, []string{"mug"}, out)
}

func TestVersionedKeyShape(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	ctx := context.Background()

	v := NewVersioned(c, "search", time.Minute)
	assert.Equal(t, "search:v0:t1:q:hello", v.Key(ctx, "t1", "q", "hello"))
	v.Bump(ctx, "t1")
	assert.Equal(t, "search:v1:t1:q:hello", v.Key(ctx, "t1", "q", "hello"))
}
