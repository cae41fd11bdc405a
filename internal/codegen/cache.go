package codegen

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/paraflow-lang/paraflow/internal/codegen/pentium"
	"github.com/paraflow-lang/paraflow/internal/isx"
)

// CacheKey identifies the generated code of one function for one register
// file.
type CacheKey string

// KeyFor derives the key from the ISX listing and the target options.
func KeyFor(fn *isx.Func, opts pentium.Options) CacheKey {
	h := sha256.New()
	h.Write([]byte(opts.String()))
	h.Write([]byte{0})
	h.Write([]byte(fn.String()))

	return CacheKey(hex.EncodeToString(h.Sum(nil)))
}

// CacheStats exposes basic metrics.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Entries   int64
	Evictions int64
}

// Cache is a thread-safe LRU of generated functions with a max entry count.
type Cache struct {
	mu       sync.Mutex
	capacity int
	head     *lruNode
	tail     *lruNode
	table    map[CacheKey]*lruNode
	stats    CacheStats
}

type lruNode struct {
	key  CacheKey
	val  *pentium.Function
	prev *lruNode
	next *lruNode
}

// NewCache creates a cache with the given capacity (entries). If capacity<=0,
// defaults to 1024.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}

	return &Cache{capacity: capacity, table: make(map[CacheKey]*lruNode)}
}

func (c *Cache) moveToFront(n *lruNode) {
	if c.head == n {
		return
	}

	c.detach(n)
	c.pushFront(n)
}

func (c *Cache) detach(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	}

	if n.next != nil {
		n.next.prev = n.prev
	}

	if c.head == n {
		c.head = n.next
	}

	if c.tail == n {
		c.tail = n.prev
	}

	n.prev, n.next = nil, nil
}

func (c *Cache) pushFront(n *lruNode) {
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}

	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *Cache) evictIfNeeded() {
	for len(c.table) > c.capacity && c.tail != nil {
		n := c.tail
		c.detach(n)
		delete(c.table, n.key)
		c.stats.Evictions++
	}

	c.stats.Entries = int64(len(c.table))
}

// Get returns the function stored under key.
func (c *Cache) Get(key CacheKey) (*pentium.Function, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.table[key]; ok {
		c.moveToFront(n)
		c.stats.Hits++

		return n.val, true
	}

	c.stats.Misses++

	return nil, false
}

// Put stores f under key, evicting the least recently used entry when full.
func (c *Cache) Put(key CacheKey, f *pentium.Function) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.table[key]; ok {
		n.val = f
		c.moveToFront(n)

		return
	}

	n := &lruNode{key: key, val: f}
	c.pushFront(n)
	c.table[key] = n
	c.evictIfNeeded()
}

// Stats returns a copy of the counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}
