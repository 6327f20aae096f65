package ledger_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-core/ledger"
)

func TestQueryCache_GetSet(t *testing.T) {
	c := ledger.NewQueryCache()
	gen := c.Generation()

	c.Set("k", 42, gen)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestQueryCache_LRUEviction(t *testing.T) {
	// GIVEN: A full cache where entry 0 was recently read
	// WHEN: One more entry is inserted
	// THEN: The least recently used entry is evicted, not the oldest insert

	c := ledger.NewQueryCache()
	gen := c.Generation()
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, gen)
	}
	require.Equal(t, 10, c.Len())

	// Touch k0 so k1 becomes least recently used.
	_, ok := c.Get("k0")
	require.True(t, ok)

	c.Set("k10", 10, gen)
	assert.Equal(t, 10, c.Len())

	_, ok = c.Get("k0")
	assert.True(t, ok, "recently used entry survives")
	_, ok = c.Get("k1")
	assert.False(t, ok, "least recently used entry evicted")
}

func TestQueryCache_InvalidateAllDropsEverything(t *testing.T) {
	c := ledger.NewQueryCache()
	gen := c.Generation()
	c.Set("a", 1, gen)
	c.Set("b", 2, gen)

	c.InvalidateAll()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestQueryCache_StaleGenerationInsertRefused(t *testing.T) {
	// GIVEN: A reader that captured the generation before a mutation
	// WHEN: The mutation invalidates and the reader then inserts its result
	// THEN: The insert is refused; pre-mutation data cannot repopulate the cache

	c := ledger.NewQueryCache()
	stale := c.Generation()

	c.InvalidateAll()
	c.Set("summary", "pre-mutation", stale)

	_, ok := c.Get("summary")
	assert.False(t, ok, "stale insert must be dropped")

	c.Set("summary", "post-mutation", c.Generation())
	v, ok := c.Get("summary")
	require.True(t, ok)
	assert.Equal(t, "post-mutation", v)
}
