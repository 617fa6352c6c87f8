// Package route computes cell-by-cell vehicle routes over the one-way road
// graph and memoizes them for reuse.
package route

import (
	"fmt"
	"sort"

	"gridflow/engine/internal/grid"
)

// NoPathError reports that a destination is unreachable under the one-way
// constraints. It is local to one vehicle and never fatal.
type NoPathError struct {
	Origin      grid.Coord
	Destination grid.Coord
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("no legal route from %s to %s", e.Origin, e.Destination)
}

// Route is an ordered path of cells from an origin to a destination. The
// origin is element zero and the destination is the final element. Routes are
// immutable once returned by the planner.
type Route struct {
	cells []grid.Coord
}

// Len returns the number of cells on the route, origin included.
func (r *Route) Len() int {
	if r == nil {
		return 0
	}
	return len(r.cells)
}

// At returns the i-th cell of the route.
func (r *Route) At(i int) grid.Coord { return r.cells[i] }

// Destination returns the final cell of the route.
func (r *Route) Destination() grid.Coord { return r.cells[len(r.cells)-1] }

// Cells returns a copy of the route so callers cannot mutate the cached path.
func (r *Route) Cells() []grid.Coord {
	if r == nil {
		return nil
	}
	out := make([]grid.Coord, len(r.cells))
	copy(out, r.cells)
	return out
}

// Crosses reports whether the route passes through the given cell.
func (r *Route) Crosses(c grid.Coord) bool {
	if r == nil {
		return false
	}
	for _, cell := range r.cells {
		if cell == c {
			return true
		}
	}
	return false
}

// Planner computes shortest routes over the directed grid graph, consulting a
// shared cache before searching.
type Planner struct {
	grid  *grid.Grid
	cache *Cache
}

// NewPlanner constructs a planner over the given grid with a fresh cache.
func NewPlanner(g *grid.Grid) *Planner {
	return &Planner{grid: g, cache: NewCache()}
}

// Cache exposes the planner's route cache for invalidation and statistics.
func (p *Planner) Cache() *Cache { return p.cache }

// Plan returns the shortest legal route from origin to destination, or a
// NoPathError when none exists. Results are memoized by (origin, destination);
// a repeated request is a cache hit and does not re-run the search.
//
// Tie-breaking between equal-length paths is deterministic: the first step
// leaving the origin prefers the origin cell's own road direction, and every
// expansion otherwise prefers the lexicographically smallest next cell.
func (p *Planner) Plan(origin, destination grid.Coord) (*Route, error) {
	if cached, ok := p.cache.Lookup(origin, destination); ok {
		return cached, nil
	}
	found := p.search(origin, destination, grid.Coord{X: -1, Y: -1})
	if found == nil {
		return nil, &NoPathError{Origin: origin, Destination: destination}
	}
	p.cache.Store(origin, destination, found)
	return found, nil
}

// PlanAvoiding computes a fresh route that never enters the avoid cell,
// biasing a congested vehicle away from the jam. The result is intentionally
// not cached: congestion is transient and must not poison the memo table.
func (p *Planner) PlanAvoiding(origin, destination, avoid grid.Coord) (*Route, error) {
	found := p.search(origin, destination, avoid)
	if found == nil {
		return nil, &NoPathError{Origin: origin, Destination: destination}
	}
	return found, nil
}

// search runs a breadth-first traversal with deterministic expansion order.
func (p *Planner) search(origin, destination, avoid grid.Coord) *Route {
	if origin == destination {
		return &Route{cells: []grid.Coord{origin}}
	}
	if !p.grid.Enterable(origin) || !p.grid.Enterable(destination) {
		return nil
	}

	prev := map[grid.Coord]grid.Coord{origin: origin}
	queue := []grid.Coord{origin}

	//1.- Determine the preferred first-step direction from the origin cell.
	var preferred grid.Direction
	if cell, ok := p.grid.CellAt(origin.X, origin.Y); ok {
		preferred = cell.Direction
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		//2.- Expand successors in deterministic order so equal-length paths
		// always resolve the same way.
		successors := p.orderedSuccessors(current, origin, preferred)
		for _, next := range successors {
			if next == avoid {
				continue
			}
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = current
			if next == destination {
				return reconstruct(prev, origin, destination)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func (p *Planner) orderedSuccessors(current, origin grid.Coord, preferred grid.Direction) []grid.Coord {
	neighbors := p.grid.Neighbors(current.X, current.Y)
	coords := make([]grid.Coord, 0, len(neighbors))
	for _, n := range neighbors {
		coords = append(coords, n.Coord)
	}
	sort.Slice(coords, func(i, j int) bool {
		if current == origin && preferred != grid.NoDirection {
			iMatch := current.DirectionTo(coords[i]) == preferred
			jMatch := current.DirectionTo(coords[j]) == preferred
			if iMatch != jMatch {
				return iMatch
			}
		}
		return coords[i].Less(coords[j])
	})
	return coords
}

func reconstruct(prev map[grid.Coord]grid.Coord, origin, destination grid.Coord) *Route {
	var cells []grid.Coord
	for at := destination; ; at = prev[at] {
		cells = append(cells, at)
		if at == origin {
			break
		}
	}
	//1.- The walk above runs destination-first, so mirror it in place.
	for i, j := 0, len(cells)-1; i < j; i, j = i+1, j-1 {
		cells[i], cells[j] = cells[j], cells[i]
	}
	return &Route{cells: cells}
}
