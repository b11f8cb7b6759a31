package cache

import (
	"container/list"
	"sync"
	"time"

	"duck-cube/internal/memberset"
)

// lru is one shard: a byte-bounded LRU list of detached member sets with
// per-entry expiry.
type lru struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[string]*list.Element
	evictList *list.List
}

type entry struct {
	key      Key
	value    *memberset.Detached
	expireAt time.Time
	size     int64
}

func newLRU(capacity int64) *lru {
	return &lru{
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

func (c *lru) get(key string, now time.Time) (*memberset.Detached, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if !now.Before(ent.expireAt) {
		c.removeElement(el)
		return nil, false
	}
	c.evictList.MoveToFront(el)
	return ent.value, true
}

// set stores the entry unless it alone exceeds the shard capacity.
func (c *lru) set(ent *entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent.size > c.capacity {
		return false
	}
	if el, ok := c.items[ent.key.String()]; ok {
		c.removeElement(el)
	}
	for c.size+ent.size > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
	}
	c.items[ent.key.String()] = c.evictList.PushFront(ent)
	c.size += ent.size
	return true
}

// invalidate removes entries matching the predicate and returns how many.
func (c *lru) invalidate(predicate func(Key) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for _, el := range c.items {
		if predicate(el.Value.(*entry).key) {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		c.removeElement(el)
	}
	return len(toRemove)
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *lru) bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *lru) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	ent := el.Value.(*entry)
	delete(c.items, ent.key.String())
	c.size -= ent.size
}
