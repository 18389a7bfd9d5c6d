package tabledb

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cache holds decoded tables keyed by absolute path.
//
// Entries are cloned on the way in and out so callers never share rows with
// the cache. A nil *cache caches nothing.
type cache struct {
	tables *lru.Cache[string, *Table]

	mu  sync.Mutex
	gen uint64 // bumped by purge
}

func newCache(size int) (*cache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, *Table](size)
	if err != nil {
		return nil, err
	}
	return &cache{tables: c}, nil
}

func (c *cache) get(path string) (*Table, bool) {
	if c == nil {
		return nil, false
	}
	t, ok := c.tables.Get(path)
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// generation must be sampled before reading the file that is later passed to
// add.
func (c *cache) generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// add stores t unless a purge happened since gen was sampled, in which case t
// may predate the write that caused it.
func (c *cache) add(gen uint64, path string, t *Table) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.tables.Add(path, t.Clone())
}

func (c *cache) purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.tables.Purge()
}

func (c *cache) len() int {
	if c == nil {
		return 0
	}
	return c.tables.Len()
}
