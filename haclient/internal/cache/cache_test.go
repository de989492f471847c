package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFetchHit(t *testing.T) {
	c := New()
	msg := []byte("payload-1")
	c.Store(msg, "ctx-1")

	got, ok := c.Fetch(msg)
	require.True(t, ok)
	assert.Equal(t, "ctx-1", got)
}

func TestFetchMiss(t *testing.T) {
	c := New()
	_, ok := c.Fetch([]byte("nothing-stored"))
	assert.False(t, ok)
}

func TestStoreDedupesIdenticalPayload(t *testing.T) {
	c := New()
	msg := []byte("same-bytes")
	c.Store(msg, "first")
	c.Store(msg, "second")

	assert.Equal(t, 1, c.Len())
	got, ok := c.Fetch(msg)
	require.True(t, ok)
	assert.Equal(t, "second", got)
}

// TestAgingEviction mirrors spec scenario D: entries older than MaxAge
// are evicted from the head on the next Store call.
func TestAgingEviction(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewWithClock(func() time.Time { return now })

	m1, m2, m3 := []byte("m1"), []byte("m2"), []byte("m3")
	c.Store(m1, "ctx1")
	c.Store(m2, "ctx2")

	now = now.Add(70 * time.Second)
	c.Store(m3, "ctx3")

	_, ok1 := c.Fetch(m1)
	_, ok2 := c.Fetch(m2)
	got3, ok3 := c.Fetch(m3)

	assert.False(t, ok1)
	assert.False(t, ok2)
	require.True(t, ok3)
	assert.Equal(t, "ctx3", got3)
}

func TestNoEvictionWithinMaxAge(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewWithClock(func() time.Time { return now })

	m1 := []byte("recent")
	c.Store(m1, "ctx")

	now = now.Add(30 * time.Second)
	c.Store([]byte("other"), "ctx2")

	_, ok := c.Fetch(m1)
	assert.True(t, ok)
}
