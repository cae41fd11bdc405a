package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paraflow-lang/paraflow/internal/codegen/pentium"
)

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)
	a, b, d := &pentium.Function{Name: "a"}, &pentium.Function{Name: "b"}, &pentium.Function{Name: "d"}

	c.Put("a", a)
	c.Put("b", b)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	c.Put("d", d)

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")

	_, ok = c.Get("a")
	assert.True(t, ok)

	_, ok = c.Get("d")
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Entries)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCachePutReplaces(t *testing.T) {
	c := NewCache(1)
	first, second := &pentium.Function{Name: "f"}, &pentium.Function{Name: "f"}

	c.Put("k", first)
	c.Put("k", second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestKeyForDependsOnOptions(t *testing.T) {
	mod := lower(t, `to add(int x, int y) into (int sum) { sum = x + y; }`)

	fn := mod.Funcs[0]
	for _, f := range mod.Funcs {
		if f.Name == "add" {
			fn = f
		}
	}

	k := KeyFor(fn, pentium.Options{Registers: 6, SSE2: true})
	assert.Equal(t, k, KeyFor(fn, pentium.Options{Registers: 6, SSE2: true}))
	assert.NotEqual(t, k, KeyFor(fn, pentium.Options{Registers: 6}))
	assert.NotEqual(t, k, KeyFor(fn, pentium.Options{Registers: 4, SSE2: true}))
}
