// Package embedcache memoizes text-to-vector embedding lookups so repeated
// queries and re-indexed chunks skip the embedding API. Entries are bounded
// by capacity (oldest-inserted evicted first) and by a TTL checked lazily on
// read. The cache is process-local; every instance warms its own.
package embedcache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key        string
	vector     []float32
	insertedAt time.Time
}

// Cache is a mutex-guarded, capacity- and TTL-bounded embedding store.
// The eviction order is insertion order; a read hit re-queues the entry at
// the back, which approximates recency without tracking true last access.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // oldest entry at the front
	items    map[string]*list.Element

	now func() time.Time
}

// New creates a cache holding at most capacity entries, each valid for ttl
// from insertion.
func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// Get returns the cached vector for text when present and younger than the
// TTL. An entry whose age has reached the TTL is evicted on the spot and
// reported as a miss. A hit moves the entry to the back of the eviction
// order; its TTL clock keeps running from the original insertion.
func (c *Cache) Get(text string) ([]float32, bool) {
	key := Key(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	ent := elem.Value.(*entry)
	if c.now().Sub(ent.insertedAt) >= c.ttl {
		c.order.Remove(elem)
		delete(c.items, key)
		return nil, false
	}

	c.order.MoveToBack(elem)
	return ent.vector, true
}

// Set inserts or overwrites the vector for text. An overwrite restarts the
// entry's TTL and moves it to the back of the eviction order. When the cache
// is at capacity, the single oldest-inserted entry is evicted first.
func (c *Cache) Set(text string, vector []float32) {
	key := Key(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		ent.vector = vector
		ent.insertedAt = c.now()
		c.order.MoveToBack(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}

	c.items[key] = c.order.PushBack(&entry{
		key:        key,
		vector:     vector,
		insertedAt: c.now(),
	})
}

// Len reports the number of live entries, counting any not yet lazily
// expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
