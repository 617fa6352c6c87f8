// Package lights owns every intersection's signal cycle as an independent
// timed state machine. Lights clustered around the same intersection form a
// group and transition synchronously so conflicting approaches are never
// green together.
package lights

import (
	"fmt"
	"sort"

	"gridflow/engine/internal/grid"
)

// Phase is the current colour of a light cycle.
type Phase uint8

const (
	Red Phase = iota
	Yellow
	Green
)

func (p Phase) String() string {
	switch p {
	case Red:
		return "red"
	case Yellow:
		return "yellow"
	case Green:
		return "green"
	default:
		return "red"
	}
}

// next returns the following phase in the Green -> Yellow -> Red cycle.
func (p Phase) next() Phase {
	switch p {
	case Green:
		return Yellow
	case Yellow:
		return Red
	default:
		return Green
	}
}

// Durations holds the per-phase tick durations of a cycle.
type Durations struct {
	Green  int
	Yellow int
	Red    int
}

// DefaultDurations is the stock 6/2/6 cycle.
var DefaultDurations = Durations{Green: 6, Yellow: 2, Red: 6}

func (d Durations) of(p Phase) int {
	switch p {
	case Green:
		return d.Green
	case Yellow:
		return d.Yellow
	default:
		return d.Red
	}
}

// Period returns the full cycle length in ticks.
func (d Durations) Period() int { return d.Green + d.Yellow + d.Red }

// group is one intersection's synchronized set of lights.
type group struct {
	id        string
	phase     Phase
	timer     int
	durations Durations
	cells     []grid.Coord
}

// step advances the group's timer by one tick, transitioning at zero.
func (gr *group) step() {
	gr.timer--
	if gr.timer <= 0 {
		gr.phase = gr.phase.next()
		gr.timer = gr.durations.of(gr.phase)
	}
}

// Light is the externally visible state of a single signal cell.
type Light struct {
	ID        string
	Cell      grid.Coord
	Approach  grid.Direction
	Phase     Phase
	GroupID   string
	TicksLeft int
}

// Controller drives every light group in lockstep with the simulation ticks.
type Controller struct {
	groups  []*group
	byCell  map[grid.Coord]*group
	byGroup map[string]*group
	g       *grid.Grid
}

// New builds the controller from the grid's light cells. Grouping is fixed at
// load time: lights touching orthogonally belong to the same intersection
// cluster. Groups containing an offset light start their cycle one green
// phase in, so neighbouring intersections alternate.
func New(g *grid.Grid, durations Durations) *Controller {
	if durations.Green <= 0 || durations.Yellow <= 0 || durations.Red <= 0 {
		durations = DefaultDurations
	}
	c := &Controller{
		byCell:  make(map[grid.Coord]*group),
		byGroup: make(map[string]*group),
		g:       g,
	}

	cells := append([]grid.Coord(nil), g.Lights()...)
	sort.Slice(cells, func(i, j int) bool { return cells[i].Less(cells[j]) })
	lightSet := make(map[grid.Coord]bool, len(cells))
	for _, cell := range cells {
		lightSet[cell] = true
	}

	//1.- Flood-fill orthogonally adjacent light cells into intersection groups.
	for _, seed := range cells {
		if _, claimed := c.byCell[seed]; claimed {
			continue
		}
		gr := &group{
			phase:     Green,
			durations: durations,
		}
		stack := []grid.Coord{seed}
		c.byCell[seed] = gr
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			gr.cells = append(gr.cells, cur)
			for _, d := range []grid.Direction{grid.North, grid.South, grid.East, grid.West} {
				adj := cur.Shift(d)
				if lightSet[adj] {
					if _, claimed := c.byCell[adj]; !claimed {
						c.byCell[adj] = gr
						stack = append(stack, adj)
					}
				}
			}
		}
		sort.Slice(gr.cells, func(i, j int) bool { return gr.cells[i].Less(gr.cells[j]) })
		gr.id = fmt.Sprintf("ig_%d_%d", gr.cells[0].X, gr.cells[0].Y)
		gr.timer = durations.Green

		//2.- Apply the cycle offset when any member carries the offset symbol.
		offset := false
		for _, cell := range gr.cells {
			if mapCell, ok := g.CellAt(cell.X, cell.Y); ok && mapCell.PhaseOffset {
				offset = true
				break
			}
		}
		if offset {
			for i := 0; i < durations.Green; i++ {
				gr.step()
			}
		}

		c.groups = append(c.groups, gr)
		c.byGroup[gr.id] = gr
	}

	//3.- Keep group iteration order deterministic for stepping and snapshots.
	sort.Slice(c.groups, func(i, j int) bool { return c.groups[i].cells[0].Less(c.groups[j].cells[0]) })
	return c
}

// Step advances every group's phase timer by one tick.
func (c *Controller) Step() {
	if c == nil {
		return
	}
	for _, gr := range c.groups {
		gr.step()
	}
}

// StateOf returns the phase of an intersection group. It is a pure query.
func (c *Controller) StateOf(groupID string) (Phase, bool) {
	if c == nil {
		return Red, false
	}
	gr, ok := c.byGroup[groupID]
	if !ok {
		return Red, false
	}
	return gr.phase, true
}

// PhaseAt returns the phase governing a specific light cell. Non-light cells
// report false.
func (c *Controller) PhaseAt(cell grid.Coord) (Phase, bool) {
	if c == nil {
		return Red, false
	}
	gr, ok := c.byCell[cell]
	if !ok {
		return Red, false
	}
	return gr.phase, true
}

// Lights snapshots every signal cell in deterministic order for the query
// surface.
func (c *Controller) Lights() []Light {
	if c == nil {
		return nil
	}
	out := make([]Light, 0, len(c.byCell))
	for _, gr := range c.groups {
		for _, cell := range gr.cells {
			approach := grid.NoDirection
			if mapCell, ok := c.g.CellAt(cell.X, cell.Y); ok {
				approach = mapCell.Direction
			}
			out = append(out, Light{
				ID:        fmt.Sprintf("tl_%d_%d", cell.X, cell.Y),
				Cell:      cell,
				Approach:  approach,
				Phase:     gr.phase,
				GroupID:   gr.id,
				TicksLeft: gr.timer,
			})
		}
	}
	return out
}

// Groups returns the intersection group identifiers in deterministic order.
func (c *Controller) Groups() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.groups))
	for _, gr := range c.groups {
		ids = append(ids, gr.id)
	}
	return ids
}
