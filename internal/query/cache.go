package query

import (
	"container/list"
	"sync"
	"time"
)

// sweeps never run more often than this, however short the ttl
const minCleanupInterval = time.Millisecond

type cacheItem[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// LRUCache is a size-bounded cache with an optional TTL. A background goroutine
// drops expired entries until Close is called.
type LRUCache[K comparable, V any] struct {
	capacity int
	ttl      time.Duration
	cache    map[K]*list.Element
	list     *list.List
	mu       sync.RWMutex

	stop      chan struct{}
	closeOnce sync.Once
}

func NewLRUCache[K comparable, V any](capacity int, ttl time.Duration) *LRUCache[K, V] {
	c := &LRUCache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[K]*list.Element),
		list:     list.New(),
		stop:     make(chan struct{}),
	}

	go c.cleanup()
	return c
}

func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		item := elem.Value.(*cacheItem[K, V])
		if c.ttl > 0 && time.Now().After(item.expiresAt) {
			c.removeElement(elem)
			var zero V
			return zero, false
		}

		c.list.MoveToFront(elem)
		return item.value, true
	}
	var zero V
	return zero, false
}

func (c *LRUCache[K, V]) Put(key K, value V) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	if elem, ok := c.cache[key]; ok {
		c.list.MoveToFront(elem)
		item := elem.Value.(*cacheItem[K, V])
		item.value = value
		item.expiresAt = expiresAt
		return
	}

	if c.list.Len() >= c.capacity {
		if elem := c.list.Back(); elem != nil {
			c.removeElement(elem)
		}
	}

	elem := c.list.PushFront(&cacheItem[K, V]{key, value, expiresAt})
	c.cache[key] = elem
}

func (c *LRUCache[K, V]) removeElement(elem *list.Element) {
	delete(c.cache, elem.Value.(*cacheItem[K, V]).key)
	c.list.Remove(elem)
}

func (c *LRUCache[K, V]) cleanup() {
	if c.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(max(c.ttl/2, minCleanupInterval))
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		now := time.Now()
		for elem := c.list.Back(); elem != nil; {
			prev := elem.Prev()
			if now.After(elem.Value.(*cacheItem[K, V]).expiresAt) {
				c.removeElement(elem)
			}
			elem = prev
		}
		c.mu.Unlock()
	}
}

func (c *LRUCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.list.Len()
}

func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[K]*list.Element)
	c.list.Init()
}

func (c *LRUCache[K, V]) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}
