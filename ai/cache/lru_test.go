package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetSet(t *testing.T) {
	c := NewLRUCache[string, int](4, time.Minute)

	c.SetWithDefaultTTL("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	// Overwrite keeps a single entry.
	c.SetWithDefaultTTL("a", 2)
	v, _ = c.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestEvictionOrder(t *testing.T) {
	c := NewLRUCache[string, int](2, time.Minute)

	c.SetWithDefaultTTL("a", 1)
	c.SetWithDefaultTTL("b", 2)
	// Touch "a" so "b" becomes the oldest.
	_, _ = c.Get("a")
	c.SetWithDefaultTTL("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestTTLExpiry(t *testing.T) {
	c := NewLRUCache[string, int](4, time.Minute)

	c.Set("short", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is collected on Get")
}

func TestPurge(t *testing.T) {
	c := NewLRUCache[string, int](4, time.Minute)

	c.Set("short", 1, time.Millisecond)
	c.Set("long", 2, time.Minute)
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"long"}, c.Keys())
}

func TestKeysMRUFirst(t *testing.T) {
	c := NewLRUCache[string, int](4, time.Minute)

	c.SetWithDefaultTTL("a", 1)
	c.SetWithDefaultTTL("b", 2)
	c.SetWithDefaultTTL("c", 3)
	_, _ = c.Get("a")

	assert.Equal(t, []string{"a", "c", "b"}, c.Keys())
}

func TestStats(t *testing.T) {
	c := NewLRUCache[string, int](4, time.Minute)

	c.SetWithDefaultTTL("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestRemove(t *testing.T) {
	c := NewLRUCache[string, int](4, time.Minute)

	c.SetWithDefaultTTL("a", 1)
	c.Remove("a")
	c.Remove("a") // idempotent

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
