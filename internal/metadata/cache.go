package metadata

import (
	"container/list"
	"context"
	"sync"

	"github.com/example/shelf-sync/internal/types"
)

// Cached wraps a Provider with a bounded LRU of successful ISBN lookups.
// Misses, empty results and errors are never cached.
type Cached struct {
	Provider
	cache *lookupCache
}

// NewCached wraps p with a cache holding at most capacity records.
func NewCached(p Provider, capacity int) *Cached {
	return &Cached{Provider: p, cache: newLookupCache(capacity)}
}

// LookupByISBN implements Provider.
func (c *Cached) LookupByISBN(ctx context.Context, isbn string) (*types.BookRecord, error) {
	if rec, ok := c.cache.Get(isbn); ok {
		cacheHits.WithLabelValues("hit").Inc()
		return &rec, nil
	}
	cacheHits.WithLabelValues("miss").Inc()

	rec, err := c.Provider.LookupByISBN(ctx, isbn)
	if err != nil || rec == nil {
		return rec, err
	}
	c.cache.Put(isbn, *rec)
	return rec, nil
}

type lookupCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type lookupEntry struct {
	isbn   string
	record types.BookRecord
}

func newLookupCache(capacity int) *lookupCache {
	if capacity < 1 {
		capacity = 1
	}
	return &lookupCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *lookupCache) Get(isbn string) (types.BookRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[isbn]
	if !ok {
		return types.BookRecord{}, false
	}
	c.ll.MoveToFront(element)
	return element.Value.(lookupEntry).record.Clone(), true
}

func (c *lookupCache) Put(isbn string, rec types.BookRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := lookupEntry{isbn: isbn, record: rec.Clone()}
	if element, ok := c.items[isbn]; ok {
		element.Value = entry
		c.ll.MoveToFront(element)
		return
	}

	c.items[isbn] = c.ll.PushFront(entry)
	if c.ll.Len() > c.capacity {
		last := c.ll.Back()
		c.ll.Remove(last)
		delete(c.items, last.Value.(lookupEntry).isbn)
	}
}

func (c *lookupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
