package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryCache(t *testing.T) {
	c := NewInMemoryCache()

	_, found := c.Get("missing")
	assert.False(t, found)

	c.Set("key", "value")
	got, found := c.Get("key")
	assert.True(t, found)
	assert.Equal(t, "value", got)

	c.Set("key", 42)
	got, found = c.Get("key")
	assert.True(t, found)
	assert.Equal(t, 42, got)

	c.Delete("key")
	_, found = c.Get("key")
	assert.False(t, found)
}

func TestInMemoryCacheTTL(t *testing.T) {
	c := NewInMemoryCache()

	c.SetWithTTL("short", "gone soon", 10*time.Millisecond)
	got, found := c.Get("short")
	assert.True(t, found)
	assert.Equal(t, "gone soon", got)

	time.Sleep(20 * time.Millisecond)
	_, found = c.Get("short")
	assert.False(t, found)

	// Zero TTL never expires
	c.SetWithTTL("forever", "stays", 0)
	time.Sleep(20 * time.Millisecond)
	_, found = c.Get("forever")
	assert.True(t, found)
}
