// Package grid models the immutable city map: a dense rectangle of cells with
// one-way road directions, traffic lights, buildings, and destinations. The
// grid is built once from a textual map and is safe for unsynchronized
// concurrent reads afterwards.
package grid

import (
	"fmt"
	"os"
	"strings"
)

// ParseError reports a malformed city map. It is fatal at startup.
type ParseError struct {
	Row    int
	Col    int
	Symbol rune
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("map parse error at row %d col %d (%q): %s", e.Row, e.Col, e.Symbol, e.Reason)
}

// laneChange describes one legal sideways step out of a road cell: the offset
// to the neighbouring lane and the directions that lane may carry. Mirrors the
// adjacency rules of the source city maps, which allow merging into a parallel
// lane or turning into a destination.
type laneChange struct {
	offset  Coord
	allowed []Direction
}

var laneChanges = map[Direction][]laneChange{
	North: {
		{offset: Coord{X: -1}, allowed: []Direction{West, North}},
		{offset: Coord{X: 1}, allowed: []Direction{East, North}},
	},
	South: {
		{offset: Coord{X: -1}, allowed: []Direction{West, South}},
		{offset: Coord{X: 1}, allowed: []Direction{East, South}},
	},
	West: {
		{offset: Coord{Y: -1}, allowed: []Direction{West, South}},
		{offset: Coord{Y: 1}, allowed: []Direction{West, North}},
	},
	East: {
		{offset: Coord{Y: -1}, allowed: []Direction{East, South}},
		{offset: Coord{Y: 1}, allowed: []Direction{East, North}},
	},
}

// lightFeeds lists, in probe order, the neighbour offset and road direction
// that would push traffic through a light cell. The first match decides the
// light's own traversal direction.
var lightFeeds = []struct {
	offset Coord
	feed   Direction
}{
	{offset: Coord{X: 1}, feed: West},
	{offset: Coord{X: -1}, feed: East},
	{offset: Coord{Y: -1}, feed: North},
	{offset: Coord{Y: 1}, feed: South},
}

// Grid is the immutable city map.
type Grid struct {
	width  int
	height int
	cells  []Cell

	lights       []Coord
	destinations []Coord
	spawns       []Coord
}

// Load reads a textual city map from disk and parses it.
func Load(path string) (*Grid, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read city map %s: %w", path, err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	return Parse(lines)
}

// Parse builds a Grid from map rows. The first row is the northern edge.
// Parsing fails with a ParseError on inconsistent row widths, unrecognized
// symbols, or a traffic light with no road feeding it.
func Parse(lines []string) (*Grid, error) {
	if len(lines) == 0 || (len(lines) == 1 && strings.TrimSpace(lines[0]) == "") {
		return nil, &ParseError{Reason: "map has no rows"}
	}
	height := len(lines)
	width := len(lines[0])

	g := &Grid{
		width:  width,
		height: height,
		cells:  make([]Cell, width*height),
	}

	//1.- Translate each symbol into a cell, rejecting anything unknown.
	for r, line := range lines {
		if len(line) != width {
			return nil, &ParseError{Row: r, Reason: fmt.Sprintf("row width %d differs from first row width %d", len(line), width)}
		}
		y := height - r - 1
		for c, symbol := range line {
			cell := Cell{Coord: Coord{X: c, Y: y}}
			switch symbol {
			case ' ':
				cell.Kind = Empty
			case '#':
				cell.Kind = Building
			case 'D':
				cell.Kind = Destination
			case '>':
				cell.Kind, cell.Direction = Road, East
			case '<':
				cell.Kind, cell.Direction = Road, West
			case '^':
				cell.Kind, cell.Direction = Road, North
			case 'v', 'V':
				cell.Kind, cell.Direction = Road, South
			case 'S':
				cell.Kind = TrafficLight
			case 's':
				cell.Kind = TrafficLight
				cell.PhaseOffset = true
			default:
				return nil, &ParseError{Row: r, Col: c, Symbol: symbol, Reason: "unrecognized map symbol"}
			}
			g.cells[y*width+c] = cell
		}
	}

	//2.- Resolve each light's traversal direction from the road feeding it.
	for i := range g.cells {
		cell := &g.cells[i]
		if cell.Kind != TrafficLight {
			continue
		}
		direction, err := g.decodeLightDirection(cell.Coord)
		if err != nil {
			return nil, err
		}
		cell.Direction = direction
		g.lights = append(g.lights, cell.Coord)
	}

	//3.- Collect destinations and the road corners usable as spawn points.
	for i := range g.cells {
		if g.cells[i].Kind == Destination {
			g.destinations = append(g.destinations, g.cells[i].Coord)
		}
	}
	for _, corner := range []Coord{
		{X: 0, Y: 0},
		{X: width - 1, Y: 0},
		{X: 0, Y: height - 1},
		{X: width - 1, Y: height - 1},
	} {
		if cell, ok := g.CellAt(corner.X, corner.Y); ok && cell.Kind == Road {
			g.spawns = append(g.spawns, corner)
		}
	}

	return g, nil
}

func (g *Grid) decodeLightDirection(at Coord) (Direction, error) {
	for _, probe := range lightFeeds {
		neighbor, ok := g.CellAt(at.X+probe.offset.X, at.Y+probe.offset.Y)
		if !ok {
			continue
		}
		if (neighbor.Kind == Road || neighbor.Kind == TrafficLight) && neighbor.Direction == probe.feed {
			return probe.feed, nil
		}
	}
	return NoDirection, &ParseError{
		Row:    g.height - at.Y - 1,
		Col:    at.X,
		Symbol: 'S',
		Reason: "traffic light has no adjacent road feeding it",
	}
}

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// CellAt returns the cell at (x, y), reporting false when out of bounds.
func (g *Grid) CellAt(x, y int) (Cell, bool) {
	if x < 0 || x >= g.width || y < 0 || y >= g.height {
		return Cell{}, false
	}
	return g.cells[y*g.width+x], true
}

// Enterable reports whether a vehicle may ever occupy the cell.
func (g *Grid) Enterable(c Coord) bool {
	cell, ok := g.CellAt(c.X, c.Y)
	if !ok {
		return false
	}
	switch cell.Kind {
	case Road, TrafficLight, Destination:
		return true
	default:
		return false
	}
}

// Neighbors enumerates the cells reachable from (x, y) by one legal step:
// the forward cell in the road's direction plus any permitted lane changes.
// Cells without a direction (buildings, destinations, empty) have no exits.
func (g *Grid) Neighbors(x, y int) []Cell {
	cell, ok := g.CellAt(x, y)
	if !ok || cell.Direction == NoDirection {
		return nil
	}

	var out []Cell
	//1.- The forward step is always legal if the target can hold a vehicle.
	forward := cell.Coord.Shift(cell.Direction)
	if target, ok := g.CellAt(forward.X, forward.Y); ok && g.Enterable(forward) {
		out = append(out, target)
	}
	//2.- Lane changes are legal only when the side lane flows compatibly.
	for _, change := range laneChanges[cell.Direction] {
		side := Coord{X: x + change.offset.X, Y: y + change.offset.Y}
		target, ok := g.CellAt(side.X, side.Y)
		if !ok {
			continue
		}
		if target.Kind == Destination {
			out = append(out, target)
			continue
		}
		if target.Kind != Road && target.Kind != TrafficLight {
			continue
		}
		for _, allowed := range change.allowed {
			if target.Direction == allowed {
				out = append(out, target)
				break
			}
		}
	}
	return out
}

// Lights returns the coordinates of every traffic light cell.
func (g *Grid) Lights() []Coord { return g.lights }

// Destinations returns the coordinates of every destination cell.
func (g *Grid) Destinations() []Coord { return g.destinations }

// SpawnPoints returns the road corners where vehicles may enter the world.
func (g *Grid) SpawnPoints() []Coord { return g.spawns }
