/*
cache.go - Memoized read results

PURPOSE:
  One cache for all derived read results, injected into the read path and
  invalidated in exactly one place: the apply-event pipeline. Nothing else
  can reach the invalidation state, which removes the historical class of
  bugs where one of several scattered caches was forgotten (or an
  invalidation flag was toggled around a call and restored stale).

POLICY:
  Bounded count with least-recently-used eviction. The capacity is small
  (10) on purpose: it covers a user rapidly toggling between recently used
  filters, and anything larger just delays invalidation churn. Every
  mutation clears the whole cache - selective invalidation was tried
  historically and produced subtle staleness.
*/
package ledger

import (
	"container/list"
	"sync"
)

const queryCacheCapacity = 10

type QueryCache struct {
	mu    sync.Mutex
	cap   int
	items map[string]*list.Element
	lru   *list.List

	// gen increments on every invalidation. A reader that started
	// computing before a mutation committed holds a stale generation and
	// its insert is refused, so a mutation can never be shadowed by a
	// slow concurrent read repopulating the cache with pre-mutation data.
	gen uint64
}

type cacheEntry struct {
	key   string
	value any
}

func NewQueryCache() *QueryCache {
	return &QueryCache{
		cap:   queryCacheCapacity,
		items: make(map[string]*list.Element),
		lru:   list.New(),
	}
}

// Get returns the cached value for key, marking it most recently used.
func (c *QueryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry).value, true
}

// Generation returns the current invalidation generation. Read it before
// computing a result and pass it to Set.
func (c *QueryCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Set stores a computed result, evicting the least recently used entry
// when full. The insert is refused when an invalidation happened after
// gen was read.
func (c *QueryCache) Set(key string, value any, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}

	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).value = value
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.items[key] = elem

	if c.lru.Len() > c.cap {
		oldest := c.lru.Back()
		if oldest != nil {
			delete(c.items, oldest.Value.(*cacheEntry).key)
			c.lru.Remove(oldest)
		}
	}
}

// InvalidateAll drops every entry. Called from the event pipeline only.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.gen++
}

// Len returns the current entry count.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
