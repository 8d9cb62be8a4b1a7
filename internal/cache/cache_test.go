package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_FreshStaleExpired(t *testing.T) {
	c := New("test", 10)
	c.Set("k", "v", 30*time.Millisecond, 10*time.Millisecond, nil)

	v, status := c.Get("k", false)
	require.Equal(t, "v", v)
	assert.Equal(t, StatusFresh, status)

	time.Sleep(15 * time.Millisecond)
	_, status = c.Get("k", false)
	assert.Equal(t, StatusStale, status)

	time.Sleep(25 * time.Millisecond)
	_, status = c.Get("k", false)
	assert.Equal(t, StatusExpired, status)
}

func TestCache_FreshHitStaysFreshWithinStaleAfter(t *testing.T) {
	// Cache law (spec §8): a fresh get at t0 stays fresh for any get at
	// t1 with t1-t0 < stale_after, absent invalidation.
	c := New("test", 10)
	c.Set("k", "v", time.Second, 100*time.Millisecond, nil)

	_, s0 := c.Get("k", false)
	require.Equal(t, StatusFresh, s0)

	time.Sleep(30 * time.Millisecond)
	_, s1 := c.Get("k", false)
	assert.Equal(t, StatusFresh, s1)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New("test", 2)
	c.Set("a", 1, time.Minute, time.Minute, nil)
	c.Set("b", 2, time.Minute, time.Minute, nil)
	c.Get("a", false) // touch a, making b the LRU victim
	c.Set("c", 3, time.Minute, time.Minute, nil)

	_, statusA := c.Get("a", false)
	_, statusB := c.Get("b", false)
	_, statusC := c.Get("c", false)

	assert.NotEqual(t, StatusMiss, statusA)
	assert.Equal(t, StatusMiss, statusB)
	assert.NotEqual(t, StatusMiss, statusC)
}

func TestCache_InvalidateByTag(t *testing.T) {
	c := New("test", 10)
	c.Set("a", 1, time.Minute, time.Minute, []string{"session:x"})
	c.Set("b", 2, time.Minute, time.Minute, []string{"session:x"})
	c.Set("c", 3, time.Minute, time.Minute, []string{"session:y"})

	n := c.InvalidateByTag("session:x")
	assert.Equal(t, 2, n)

	_, status := c.Get("c", false)
	assert.NotEqual(t, StatusMiss, status)
}

func TestCache_RefreshWorkerInvokesRegisteredLoader(t *testing.T) {
	c := New("test", 10)
	c.Set("pfx:k", "old", time.Minute, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunRefreshWorker(ctx)

	c.Warmup(ctx, nil, "pfx:", func(ctx context.Context, key string) (any, error) {
		return "new", nil
	})

	time.Sleep(20 * time.Millisecond) // cross into stale
	c.Get("pfx:k", true)

	require.Eventually(t, func() bool {
		v, _ := c.Get("pfx:k", false)
		return v == "new"
	}, time.Second, 5*time.Millisecond)
}

func TestCache_RefreshDroppedWithoutLoader(t *testing.T) {
	c := New("test", 10)
	c.Set("noloader:k", "old", time.Minute, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunRefreshWorker(ctx)

	time.Sleep(20 * time.Millisecond)
	c.Get("noloader:k", true)
	time.Sleep(20 * time.Millisecond)

	v, _ := c.Get("noloader:k", false)
	assert.Equal(t, "old", v)
}
