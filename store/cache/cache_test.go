package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetDelete(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	c.SetWithTTL("a", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestSizeBound(t *testing.T) {
	c := New(Config{MaxItems: 2})
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	c.mu.RLock()
	n := len(c.items)
	c.mu.RUnlock()
	assert.Equal(t, 2, n)

	_, ok := c.Get("c")
	assert.True(t, ok, "the newest entry always survives the drop")
}

func TestCleanupEviction(t *testing.T) {
	evicted := make(chan string, 1)
	c := New(Config{
		CleanupInterval: 5 * time.Millisecond,
		OnEviction:      func(key string, _ any) { evicted <- key },
	})
	defer c.Close()

	c.SetWithTTL("a", 1, time.Millisecond)

	select {
	case key := <-evicted:
		assert.Equal(t, "a", key)
	case <-time.After(time.Second):
		t.Fatal("cleanup never fired")
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := New(Config{})
	c.Close()
	c.Close()
}
