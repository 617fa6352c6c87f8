package grid

import "fmt"

// CellKind identifies what occupies a map cell.
type CellKind uint8

const (
	Empty CellKind = iota
	Road
	Building
	TrafficLight
	Destination
)

func (k CellKind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Road:
		return "road"
	case Building:
		return "building"
	case TrafficLight:
		return "traffic_light"
	case Destination:
		return "destination"
	default:
		return "unknown"
	}
}

// Direction is the single legal traversal direction out of a road cell.
type Direction uint8

const (
	NoDirection Direction = iota
	North
	South
	East
	West
)

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case South:
		return "south"
	case East:
		return "east"
	case West:
		return "west"
	default:
		return "none"
	}
}

// Vector returns the unit grid offset for the direction. North is +y.
func (d Direction) Vector() (dx, dy int) {
	switch d {
	case North:
		return 0, 1
	case South:
		return 0, -1
	case East:
		return 1, 0
	case West:
		return -1, 0
	default:
		return 0, 0
	}
}

// Rotation converts the direction into a renderer-facing heading in degrees,
// measured clockwise with north at zero.
func (d Direction) Rotation() float64 {
	switch d {
	case North:
		return 0
	case East:
		return 90
	case South:
		return 180
	case West:
		return 270
	default:
		return 0
	}
}

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	default:
		return NoDirection
	}
}

// Coord addresses a single grid cell.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Shift returns the coordinate one step in the given direction.
func (c Coord) Shift(d Direction) Coord {
	dx, dy := d.Vector()
	return Coord{X: c.X + dx, Y: c.Y + dy}
}

// DirectionTo derives the cardinal direction of a single-step move from c to
// other, or NoDirection when the cells are not orthogonally adjacent.
func (c Coord) DirectionTo(other Coord) Direction {
	switch {
	case other.X == c.X && other.Y == c.Y+1:
		return North
	case other.X == c.X && other.Y == c.Y-1:
		return South
	case other.X == c.X+1 && other.Y == c.Y:
		return East
	case other.X == c.X-1 && other.Y == c.Y:
		return West
	default:
		return NoDirection
	}
}

// Less orders coordinates by x then y, giving the deterministic tie-break used
// by the route planner.
func (c Coord) Less(other Coord) bool {
	if c.X != other.X {
		return c.X < other.X
	}
	return c.Y < other.Y
}

// Cell is one immutable unit of the city map.
type Cell struct {
	Coord
	Kind CellKind
	// Direction is set for Road and TrafficLight cells only.
	Direction Direction
	// PhaseOffset marks lights that begin their cycle mid-way, so adjacent
	// intersections alternate instead of switching in lockstep.
	PhaseOffset bool
}
