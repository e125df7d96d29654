package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewTTLCache[string, int]().(*ttlCache[string, int])
	c.now = func() time.Time { return now }

	c.Set("a", 42, time.Minute)

	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 42, got)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	require.False(t, ok)

	// expired entry is removed on read
	c.mu.RLock()
	_, present := c.entries["a"]
	c.mu.RUnlock()
	require.False(t, present)
}

func TestTTLCacheZeroTTLIgnored(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("k", "v", 0)

	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("k", "v", time.Hour)
	c.Delete("k")

	_, ok := c.Get("k")
	require.False(t, ok)
}
