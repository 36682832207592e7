package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache(t *testing.T) {
	c := New[string](4, time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", "one")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	c.Set("a", "two")
	v, _ = c.Get("a")
	assert.Equal(t, "two", v)

	assert.True(t, c.Contains("a"))
	assert.Equal(t, 1, c.Len())

	c.Remove("a")
	assert.False(t, c.Contains("a"))
	c.Remove("a")
}

func TestCache_Expiry(t *testing.T) {
	c := New[int](4, 20*time.Millisecond)
	c.Set("k", 1)

	_, ok := c.Get("k")
	assert.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_Bounded(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("c"))
}
