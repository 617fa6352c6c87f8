// Package vehicle implements the per-vehicle behaviour state machine. A
// vehicle consumes its planned route one cell per tick, proposing moves that
// the scheduler resolves against the shared occupancy map; it never mutates
// world state itself.
package vehicle

import (
	"gridflow/engine/internal/grid"
	"gridflow/engine/internal/lights"
	"gridflow/engine/internal/route"
)

// State enumerates the vehicle lifecycle.
type State uint8

const (
	Spawned State = iota
	Moving
	Waiting
	Rerouting
	Arrived
)

func (s State) String() string {
	switch s {
	case Spawned:
		return "spawned"
	case Moving:
		return "moving"
	case Waiting:
		return "waiting"
	case Rerouting:
		return "rerouting"
	case Arrived:
		return "arrived"
	default:
		return "unknown"
	}
}

// WorldView is the read-only committed world state a proposal may consult.
type WorldView interface {
	// Occupied reports whether a vehicle held the cell at the last commit.
	Occupied(c grid.Coord) bool
	// PhaseAt returns the signal phase governing a light cell, if any.
	PhaseAt(c grid.Coord) (lights.Phase, bool)
}

// Proposal is a vehicle's requested move for the current tick.
type Proposal struct {
	VehicleID int
	From      grid.Coord
	To        grid.Coord
	Stay      bool
}

// Vehicle is one car in the world. It is mutated only during its own turn by
// the scheduler's commit phase.
type Vehicle struct {
	ID          int
	Cell        grid.Coord
	Destination grid.Coord
	Facing      grid.Direction
	State       State

	route      *route.Route
	routeIndex int
	waitTicks  int
	stepsTaken int
}

// New creates a freshly spawned vehicle without a route.
func New(id int, spawn, destination grid.Coord, facing grid.Direction) *Vehicle {
	return &Vehicle{
		ID:          id,
		Cell:        spawn,
		Destination: destination,
		Facing:      facing,
		State:       Spawned,
	}
}

// AssignRoute installs a planned route starting at the vehicle's current cell
// and moves the vehicle into the Moving state. A single-cell route means the
// vehicle already stands on its destination.
func (v *Vehicle) AssignRoute(r *route.Route) {
	v.route = r
	v.routeIndex = 1
	if r.Len() <= 1 {
		v.State = Arrived
		return
	}
	v.State = Moving
}

// NextTarget returns the next cell the route asks for, if any remains.
func (v *Vehicle) NextTarget() (grid.Coord, bool) {
	if v.route == nil || v.routeIndex >= v.route.Len() {
		return grid.Coord{}, false
	}
	return v.route.At(v.routeIndex), true
}

// WaitTicks reports how many consecutive ticks the vehicle has proposed to
// stay in place.
func (v *Vehicle) WaitTicks() int { return v.waitTicks }

// StepsTaken reports how many committed moves the vehicle has made.
func (v *Vehicle) StepsTaken() int { return v.stepsTaken }

// ProposeMove inspects the committed world snapshot and requests either a
// single-cell move along the route or a stay. It performs no mutation.
func (v *Vehicle) ProposeMove(view WorldView) Proposal {
	stay := Proposal{VehicleID: v.ID, From: v.Cell, To: v.Cell, Stay: true}

	if v.State == Arrived || v.Cell == v.Destination {
		return stay
	}
	target, ok := v.NextTarget()
	if !ok {
		return stay
	}
	//1.- A red or yellow signal on the target cell blocks entry.
	if phase, lit := view.PhaseAt(target); lit && phase != lights.Green {
		return stay
	}
	//2.- An occupied target defers to conflict resolution: the scheduler may
	// still grant the move if the occupant vacates this tick, so the vehicle
	// reports the move and lets resolution decide.
	return Proposal{VehicleID: v.ID, From: v.Cell, To: target}
}

// CommitMove applies an accepted move. Only the scheduler calls this, once
// per tick, after conflict resolution.
func (v *Vehicle) CommitMove(to grid.Coord) {
	if d := v.Cell.DirectionTo(to); d != grid.NoDirection {
		v.Facing = d
	}
	v.Cell = to
	v.routeIndex++
	v.waitTicks = 0
	v.stepsTaken++
	if v.Cell == v.Destination {
		v.State = Arrived
		return
	}
	v.State = Moving
}

// CommitStay records a denied or withheld move and accumulates waiting time.
func (v *Vehicle) CommitStay() {
	if v.State == Arrived {
		return
	}
	v.waitTicks++
	v.State = Waiting
}

// ShouldReroute reports whether the vehicle has been stuck long enough to
// justify a replan.
func (v *Vehicle) ShouldReroute(threshold int) bool {
	return v.State == Waiting && v.waitTicks > threshold
}

// Reroute asks the planner for a fresh route from the current cell, biased
// away from the immediately blocked neighbour. On success the vehicle resumes
// Moving on the new route; otherwise it stays Waiting on the old one.
func (v *Vehicle) Reroute(planner *route.Planner) bool {
	v.State = Rerouting
	blocked, ok := v.NextTarget()
	if !ok {
		v.State = Waiting
		return false
	}
	fresh, err := planner.PlanAvoiding(v.Cell, v.Destination, blocked)
	if err != nil {
		v.State = Waiting
		return false
	}
	v.AssignRoute(fresh)
	v.waitTicks = 0
	return true
}
