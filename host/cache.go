package host

import (
	"maps"
	"slices"
	"sync"
)

// Cache is the host-side key/value store of int32 rows. A row handed to the
// kernel by Get is borrowed until Unborrow and cannot be replaced.
type Cache struct {
	rows map[string]*cacheRow
	mu   sync.Mutex
}

type cacheRow struct {
	data     []int32
	borrowed bool
}

func NewCache() *Cache {
	return &Cache{rows: make(map[string]*cacheRow)}
}

// Get returns the row for key and marks it borrowed. An absent key yields
// an empty row and borrows nothing.
func (c *Cache) Get(key string) []int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[key]
	if !ok {
		return nil
	}
	row.borrowed = true
	return row.data
}

// Put replaces the row for key with a copy of value. It fails when the row
// is borrowed.
func (c *Cache) Put(key string, value []int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[key]
	if !ok {
		c.rows[key] = &cacheRow{data: slices.Clone(value)}
		return true
	}
	if row.borrowed {
		return false
	}
	row.data = slices.Clone(value)
	return true
}

// Unborrow releases every borrowed row.
func (c *Cache) Unborrow() {
	c.mu.Lock()
	for _, row := range c.rows {
		row.borrowed = false
	}
	c.mu.Unlock()
}

// Borrowed reports whether key is currently borrowed.
func (c *Cache) Borrowed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[key]
	return ok && row.borrowed
}

// Seed stores rows, replacing existing ones regardless of borrows.
func (c *Cache) Seed(rows map[string][]int32) {
	c.mu.Lock()
	for key, value := range rows {
		c.rows[key] = &cacheRow{data: slices.Clone(value)}
	}
	c.mu.Unlock()
}

// Rows returns a copy of every row.
func (c *Cache) Rows() map[string][]int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]int32, len(c.rows))
	for key, row := range c.rows {
		out[key] = slices.Clone(row.data)
	}
	return out
}

// Keys returns the row keys in order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.rows))
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}
