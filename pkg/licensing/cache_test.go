package licensing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCacheExpiry(t *testing.T) {
	current := time.Now()
	cache := NewMemoryCacheWithClock(func() time.Time { return current })
	ctx := context.Background()

	cache.Set(ctx, "k", []byte("v"), time.Minute)

	value, ok := cache.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	current = current.Add(time.Minute)
	_, ok = cache.Get(ctx, "k")
	assert.False(t, ok, "entry at exactly its expiry must be treated as expired")
}

func TestMemoryCacheDelete(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	cache.Set(ctx, "a", []byte("1"), time.Minute)
	cache.Set(ctx, "b", []byte("2"), time.Minute)
	cache.Delete(ctx, "a")

	_, ok := cache.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "b")
	assert.True(t, ok)
}

func TestMemoryCacheFlush(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	cache.Set(ctx, "a", []byte("1"), time.Minute)
	cache.Set(ctx, "b", []byte("2"), time.Minute)
	cache.Flush(ctx)

	assert.Equal(t, 0, cache.Len())
}

func TestMemoryCachePurge(t *testing.T) {
	current := time.Now()
	cache := NewMemoryCacheWithClock(func() time.Time { return current })
	ctx := context.Background()

	cache.Set(ctx, "short", []byte("1"), time.Second)
	cache.Set(ctx, "long", []byte("2"), time.Hour)

	current = current.Add(time.Minute)
	purged := cache.Purge()

	assert.Equal(t, 1, purged)
	assert.Equal(t, 1, cache.Len())
}
