package route

import (
	"sync"

	"gridflow/engine/internal/grid"
)

type pairKey struct {
	origin      grid.Coord
	destination grid.Coord
}

// Cache memoizes computed routes by (origin, destination). Reads are served
// under a shared lock; writes are serialized. Entries are only evicted by
// explicit invalidation when a crossed cell becomes permanently blocked,
// never for transient congestion.
type Cache struct {
	mu     sync.RWMutex
	routes map[pairKey]*Route
	hits   uint64
	misses uint64
}

// NewCache constructs an empty route cache.
func NewCache() *Cache {
	return &Cache{routes: make(map[pairKey]*Route)}
}

// Lookup returns the memoized route for the pair, counting a hit or miss.
func (c *Cache) Lookup(origin, destination grid.Coord) (*Route, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.routes[pairKey{origin: origin, destination: destination}]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return r, ok
}

// Store memoizes a route for the pair.
func (c *Cache) Store(origin, destination grid.Coord, r *Route) {
	if c == nil || r == nil {
		return
	}
	c.mu.Lock()
	c.routes[pairKey{origin: origin, destination: destination}] = r
	c.mu.Unlock()
}

// Invalidate purges every cached route crossing the given cell and returns
// the number of purged entries. Called when a cell becomes permanently
// blocked by a map mutation.
func (c *Cache) Invalidate(cell grid.Coord) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	purged := 0
	for key, r := range c.routes {
		if r.Crosses(cell) {
			delete(c.routes, key)
			purged++
		}
	}
	return purged
}

// Len returns the number of memoized routes.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes)
}

// Stats returns the cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	if c == nil {
		return 0, 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Reset drops every entry and zeroes the counters.
func (c *Cache) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.routes = make(map[pairKey]*Route)
	c.hits = 0
	c.misses = 0
	c.mu.Unlock()
}
