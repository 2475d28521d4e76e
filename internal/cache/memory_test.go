package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGet(t *testing.T) {
	m := NewMemoryCache(10)

	require.NoError(t, m.Set("a", map[string]int{"n": 1}, time.Minute))

	var out map[string]int
	require.NoError(t, m.Get("a", &out))
	assert.Equal(t, 1, out["n"])

	var missing string
	assert.ErrorIs(t, m.Get("b", &missing), ErrCacheMiss)
}

func TestMemoryCache_Expiry(t *testing.T) {
	m := NewMemoryCache(10)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set("a", "x", time.Second))

	now = now.Add(2 * time.Second)
	var out string
	assert.ErrorIs(t, m.Get("a", &out), ErrCacheMiss)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryCache_Bounded(t *testing.T) {
	m := NewMemoryCache(2)

	require.NoError(t, m.Set("a", 1, time.Minute))
	require.NoError(t, m.Set("b", 2, time.Minute))
	require.NoError(t, m.Set("c", 3, time.Minute))

	assert.Equal(t, 2, m.Len())

	var out int
	require.NoError(t, m.Get("c", &out))
	assert.Equal(t, 3, out)
}

func TestMemoryCache_Delete(t *testing.T) {
	m := NewMemoryCache(10)
	require.NoError(t, m.Set("user:1", 1, time.Minute))
	require.NoError(t, m.Set("user:2", 2, time.Minute))

	m.Delete("user:1")
	assert.Equal(t, 1, m.Len())

	var out int
	assert.ErrorIs(t, m.Get("user:1", &out), ErrCacheMiss)
	require.NoError(t, m.Get("user:2", &out))
	assert.Equal(t, 2, out)
}
