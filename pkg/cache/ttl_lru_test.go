package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billsync/pkg/cache"
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

func TestTTLCache_Basic(t *testing.T) {
	t.Parallel()

	t.Run("put and get", func(t *testing.T) {
		t.Parallel()
		c := cache.NewTTLCache[string, int](3, time.Minute)

		c.Put("a", 1)
		c.Put("b", 2)

		val, ok := c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, val)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("missing key", func(t *testing.T) {
		t.Parallel()
		c := cache.NewTTLCache[string, int](3, time.Minute)

		val, ok := c.Get("missing")
		assert.False(t, ok)
		assert.Zero(t, val)
	})

	t.Run("remove", func(t *testing.T) {
		t.Parallel()
		c := cache.NewTTLCache[string, int](3, time.Minute)

		c.Put("a", 1)
		assert.True(t, c.Remove("a"))
		assert.False(t, c.Remove("a"))
		assert.Equal(t, 0, c.Len())
	})
}

func TestTTLCache_Eviction(t *testing.T) {
	t.Parallel()

	c := cache.NewTTLCache[string, int](2, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a") // a is now most recently used
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestTTLCache_Expiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.NewTTLCache[string, int](10, time.Hour, cache.WithClock(clock.Now))

	c.Put("a", 1)
	clock.Advance(59 * time.Minute)
	_, ok := c.Get("a")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on access")

	c.Put("a", 2)
	val, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, val)
}

func TestTTLCache_InvalidArgs(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { cache.NewTTLCache[string, int](0, time.Minute) })
	assert.Panics(t, func() { cache.NewTTLCache[string, int](1, -time.Second) })
}
