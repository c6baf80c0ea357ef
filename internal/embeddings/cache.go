package embeddings

import (
	"container/list"
	"sync"
)

// LocalLRU is a fixed-capacity in-process cache from text to its
// embedding. Eviction is least-recently-used.
type LocalLRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	key    string
	vector []float32
}

// NewLocalLRU builds a cache holding at most capacity entries.
func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 256
	}
	return &LocalLRU{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached vector and whether it was present.
func (c *LocalLRU) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).vector, true
}

// Put stores a vector, evicting the oldest entry when full.
func (c *LocalLRU) Put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).vector = vector
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
	c.items[key] = c.order.PushFront(&lruEntry{key: key, vector: vector})
}

// Len reports the number of cached entries.
func (c *LocalLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
