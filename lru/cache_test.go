package lru

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func withClock[K comparable, V any](c *Cache[K, V]) *clock {
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clk.now
	return clk
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[string, int](0) })
	assert.NotPanics(t, func() { New[string, int](1) })
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Put("plan", 1)
	c.Put("dev", 2)

	_, ok := c.Get("plan")
	require.True(t, ok)

	k, v, evicted := c.Put("test", 3)
	require.True(t, evicted)
	assert.Equal(t, "dev", k)
	assert.Equal(t, 2, v)

	assert.Equal(t, []string{"test", "plan"}, c.Keys())
	assert.Equal(t, []int{3, 1}, c.Values())
}

func TestCache_UpdateDoesNotEvict(t *testing.T) {
	c := New[string, int](1)
	c.Put("a", 1)
	_, _, evicted := c.Put("a", 2)
	assert.False(t, evicted)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestCache_PeekKeepsOrder(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	v, ok := c.Peek("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	k, _, _ := c.Put("c", 3)
	assert.Equal(t, "a", k, "peek must not promote")
	assert.Zero(t, c.Metrics().Hits+c.Metrics().Misses, "peek is not a lookup")
}

func TestCache_DeleteAndClear(t *testing.T) {
	var evicted []string
	c := New(4, WithOnEvict(func(k string, _ int) { evicted = append(evicted, k) }))
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 2, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Empty(t, c.Keys())
	assert.Empty(t, evicted, "explicit removal is not an eviction")
}

func TestCache_TTL(t *testing.T) {
	var evicted []string
	c := New(4,
		WithTTL[string, int](time.Minute),
		WithOnEvict(func(k string, _ int) { evicted = append(evicted, k) }),
	)
	clk := withClock(c)

	c.Put("short", 1)
	c.PutWithTTL("long", 2, time.Hour)
	c.PutWithTTL("forever", 3, 0)

	clk.advance(2 * time.Minute)
	assert.ElementsMatch(t, []string{"long", "forever"}, c.Keys())
	assert.Equal(t, 3, c.Len(), "expired entries linger until touched")

	_, ok := c.Get("short")
	assert.False(t, ok)
	assert.Equal(t, []string{"short"}, evicted)
	assert.Equal(t, 2, c.Len())

	clk.advance(2 * time.Hour)
	_, ok = c.Peek("long")
	assert.False(t, ok)
	_, ok = c.Get("forever")
	assert.True(t, ok)

	m := c.Metrics()
	assert.Equal(t, uint64(2), m.Expirations)
	assert.Zero(t, m.Evictions)
}

func TestCache_PutResetsTTL(t *testing.T) {
	c := New(2, WithTTL[string, int](time.Minute))
	clk := withClock(c)

	c.Put("a", 1)
	clk.advance(50 * time.Second)
	c.Put("a", 2)
	clk.advance(50 * time.Second)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCache_Metrics(t *testing.T) {
	c := New[string, int](2)
	assert.Zero(t, c.Metrics().HitRate())

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")
	c.Get("b")
	c.Get("missing")
	c.Put("c", 3)

	m := c.Metrics()
	assert.Equal(t, uint64(2), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
	assert.Equal(t, uint64(1), m.Evictions)
	assert.InDelta(t, 2.0/3.0, m.HitRate(), 1e-9)
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int, int](64, WithTTL[int, int](time.Hour))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := (g*500 + i) % 100
				c.Put(k, i)
				c.Get(k)
				c.Peek(k + 1)
				if i%50 == 0 {
					c.Keys()
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

func BenchmarkCache_PutGet(b *testing.B) {
	c := New[string, int](1024)
	keys := make([]string, 2048)
	for i := range keys {
		keys[i] = fmt.Sprintf("project-%d", i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keys[i%len(keys)]
		c.Put(k, i)
		c.Get(k)
	}
}

func ExampleCache() {
	c := New[string, string](2)
	c.Put("p1", "done")
	c.Put("p2", "failed")
	c.Get("p1")
	k, _, _ := c.Put("p3", "done")
	fmt.Println(k, c.Keys())
	// Output: p2 [p3 p1]
}
