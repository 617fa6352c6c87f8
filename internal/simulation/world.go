// Package simulation owns the authoritative world and advances it one tick
// at a time: signals first, then vehicle proposals, deterministic conflict
// resolution, an atomic commit, and spawn/retire bookkeeping. A Step is one
// indivisible unit of simulation time; external readers only ever observe
// fully committed ticks.
package simulation

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"gridflow/engine/internal/grid"
	"gridflow/engine/internal/lights"
	"gridflow/engine/internal/logging"
	"gridflow/engine/internal/route"
	"gridflow/engine/internal/state"
	"gridflow/engine/internal/vehicle"
)

// ErrInvalidStepRequest is returned when Step is called before Initialize.
// The world is left unchanged.
var ErrInvalidStepRequest = errors.New("step requested before the world was initialized")

// Params bundles the scenario tunables of a world.
type Params struct {
	Lights           lights.Durations
	SpawnInterval    int
	PopulationCap    int
	RerouteThreshold int
	Seed             int64
}

// World is the complete mutable simulation state. All access is serialized
// behind its lock; proposal generation inside a tick fans out across
// goroutines but only reads the previous committed state.
type World struct {
	mu      sync.Mutex
	grid    *grid.Grid
	planner *route.Planner
	lights  *lights.Controller
	params  Params
	logger  *logging.Logger

	vehicles  []*vehicle.Vehicle
	byID      map[int]*vehicle.Vehicle
	occupancy map[grid.Coord]int

	tick        uint64
	nextID      int
	rng         *rand.Rand
	stats       *stats
	monitor     *TickMonitor
	initialized bool
}

// NewWorld constructs an uninitialized world over an immutable grid.
func NewWorld(g *grid.Grid, params Params, logger *logging.Logger) *World {
	if params.SpawnInterval <= 0 {
		params.SpawnInterval = 1
	}
	if params.RerouteThreshold <= 0 {
		params.RerouteThreshold = 3
	}
	if logger == nil {
		logger = logging.L()
	}
	return &World{
		grid:    g,
		planner: route.NewPlanner(g),
		params:  params,
		logger:  logger.With(logging.String("component", "world")),
		byID:    make(map[int]*vehicle.Vehicle),
		stats:   newStats(),
		monitor: NewTickMonitor(),
	}
}

// Initialize resets the world to its initial spawn state. It is idempotent:
// two Initialize calls with the same parameters produce identical worlds.
func (w *World) Initialize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Rebuild every mutable structure from scratch for a clean run.
	w.lights = lights.New(w.grid, w.params.Lights)
	w.planner.Cache().Reset()
	w.vehicles = nil
	w.byID = make(map[int]*vehicle.Vehicle)
	w.occupancy = make(map[grid.Coord]int)
	w.tick = 0
	w.nextID = 0
	w.rng = rand.New(rand.NewSource(w.params.Seed))
	w.stats.reset()
	w.monitor.Reset()
	w.initialized = true

	//2.- Seed the first wave of vehicles at the spawn corners.
	w.spawnWaveLocked()

	w.logger.Info("world initialized",
		logging.Int("width", w.grid.Width()),
		logging.Int("height", w.grid.Height()),
		logging.Int("vehicles", len(w.vehicles)),
		logging.Int("lights", len(w.grid.Lights())),
	)
	return nil
}

// Initialized reports whether Initialize has completed.
func (w *World) Initialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initialized
}

// Dimensions returns the grid extent in cells.
func (w *World) Dimensions() (width, height int) {
	return w.grid.Width(), w.grid.Height()
}

// Tick returns the number of committed steps since Initialize.
func (w *World) Tick() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// committedView adapts the world's committed occupancy and signal state to
// the read-only view proposals consume.
type committedView struct {
	w *World
}

func (v *committedView) Occupied(c grid.Coord) bool {
	_, ok := v.w.occupancy[c]
	return ok
}

func (v *committedView) PhaseAt(c grid.Coord) (lights.Phase, bool) {
	return v.w.lights.PhaseAt(c)
}

// Step advances the world by exactly one tick. It either completes fully or,
// when called before Initialize, leaves the world untouched and reports
// ErrInvalidStepRequest. Per-vehicle failures never abort the tick.
func (w *World) Step() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return ErrInvalidStepRequest
	}
	started := time.Now()
	w.tick++

	//1.- Remember who had already arrived: they leave at this tick boundary.
	retiring := make([]*vehicle.Vehicle, 0)
	for _, v := range w.vehicles {
		if v.State == vehicle.Arrived {
			retiring = append(retiring, v)
		}
	}

	//2.- Advance every signal phase before any vehicle looks at them.
	w.lights.Step()

	//3.- Collect proposals concurrently; each reads only committed state.
	proposals := make([]vehicle.Proposal, len(w.vehicles))
	view := &committedView{w: w}
	var wg sync.WaitGroup
	for i, v := range w.vehicles {
		wg.Add(1)
		go func(i int, v *vehicle.Vehicle) {
			defer wg.Done()
			proposals[i] = v.ProposeMove(view)
		}(i, v)
	}
	wg.Wait()

	//4.- Resolve conflicts deterministically and commit accepted moves.
	accepted := w.resolveLocked(proposals)
	w.commitLocked(proposals, accepted)

	//5.- Retire vehicles that arrived on an earlier tick, then spawn.
	for _, v := range retiring {
		w.retireLocked(v)
	}
	if w.tick%uint64(w.params.SpawnInterval) == 0 {
		w.spawnWaveLocked()
	}

	w.monitor.Observe(time.Since(started))
	return nil
}

// resolveLocked groups proposals by target cell and decides which moves are
// accepted this tick. Lowest vehicle id wins a contested cell; a move into a
// cell being vacated is accepted only once the vacating move itself is
// accepted. Vehicles caught in a rotation cycle all stay put.
func (w *World) resolveLocked(proposals []vehicle.Proposal) map[int]bool {
	//1.- Pick the winner (lowest id) for every contested target cell.
	winners := make(map[grid.Coord]int)
	for _, p := range proposals {
		if p.Stay {
			continue
		}
		if current, contested := winners[p.To]; !contested || p.VehicleID < current {
			winners[p.To] = p.VehicleID
		}
	}

	//2.- Accept winners whose target is free, then follow vacating chains
	// until nothing changes. Cycles never make progress and are left waiting.
	accepted := make(map[int]bool)
	for changed := true; changed; {
		changed = false
		for _, p := range proposals {
			if p.Stay || accepted[p.VehicleID] || winners[p.To] != p.VehicleID {
				continue
			}
			occupant, occupied := w.occupancy[p.To]
			if !occupied || accepted[occupant] {
				accepted[p.VehicleID] = true
				changed = true
			}
		}
	}

	//3.- Report unresolved movers; they wait one tick and retry, never fatal.
	blocked := 0
	for _, p := range proposals {
		if !p.Stay && !accepted[p.VehicleID] {
			blocked++
			if winners[p.To] == p.VehicleID {
				if occupant, ok := w.occupancy[p.To]; ok {
					w.logger.Debug("move blocked by occupant",
						logging.Int("vehicle", p.VehicleID),
						logging.Int("occupant", occupant),
						logging.String("cell", p.To.String()),
					)
				}
			}
		}
	}
	w.stats.recordConflicts(blocked)
	return accepted
}

// commitLocked applies accepted moves atomically for the whole tick and lets
// every denied vehicle account its wait, rerouting the ones stuck past the
// threshold.
func (w *World) commitLocked(proposals []vehicle.Proposal, accepted map[int]bool) {
	//1.- Vacate every accepted origin first so chained moves never collide.
	for _, p := range proposals {
		if accepted[p.VehicleID] {
			delete(w.occupancy, p.From)
		}
	}
	//2.- Occupy targets and update the vehicles in spawn order.
	for i, p := range proposals {
		v := w.vehicles[i]
		if accepted[p.VehicleID] {
			w.occupancy[p.To] = p.VehicleID
			v.CommitMove(p.To)
			continue
		}
		if v.State == vehicle.Arrived {
			continue
		}
		v.CommitStay()
		if v.ShouldReroute(w.params.RerouteThreshold) {
			if v.Reroute(w.planner) {
				w.stats.recordReroute()
				w.logger.Debug("vehicle rerouted",
					logging.Int("vehicle", v.ID),
					logging.String("cell", v.Cell.String()),
				)
			}
		}
	}
}

// retireLocked removes an arrived vehicle from the world.
func (w *World) retireLocked(v *vehicle.Vehicle) {
	delete(w.byID, v.ID)
	if holder, ok := w.occupancy[v.Cell]; ok && holder == v.ID {
		delete(w.occupancy, v.Cell)
	}
	for i, candidate := range w.vehicles {
		if candidate.ID == v.ID {
			w.vehicles = append(w.vehicles[:i], w.vehicles[i+1:]...)
			break
		}
	}
	w.stats.recordArrival(v.StepsTaken())
	w.logger.Debug("vehicle arrived",
		logging.Int("vehicle", v.ID),
		logging.String("cell", v.Cell.String()),
		logging.Int("steps", v.StepsTaken()),
	)
}

// spawnWaveLocked attempts one spawn per free spawn corner, dropping vehicles
// whose destination is unreachable rather than blocking the tick.
func (w *World) spawnWaveLocked() {
	destinations := w.grid.Destinations()
	if len(destinations) == 0 {
		return
	}
	spawns := append([]grid.Coord(nil), w.grid.SpawnPoints()...)
	sort.Slice(spawns, func(i, j int) bool { return spawns[i].Less(spawns[j]) })

	for _, spawn := range spawns {
		if w.params.PopulationCap > 0 && len(w.vehicles) >= w.params.PopulationCap {
			return
		}
		if _, occupied := w.occupancy[spawn]; occupied {
			continue
		}
		destination := destinations[w.rng.Intn(len(destinations))]

		id := w.nextID
		w.nextID++
		facing := grid.NoDirection
		if cell, ok := w.grid.CellAt(spawn.X, spawn.Y); ok {
			facing = cell.Direction
		}
		v := vehicle.New(id, spawn, destination, facing)

		planned, err := w.planner.Plan(spawn, destination)
		if err != nil {
			var noPath *route.NoPathError
			if errors.As(err, &noPath) {
				w.stats.recordDrop()
				w.logger.Warn("spawned vehicle dropped: destination unreachable",
					logging.Int("vehicle", id),
					logging.String("origin", spawn.String()),
					logging.String("destination", destination.String()),
				)
				continue
			}
			w.logger.Error("route planning failed", logging.Int("vehicle", id), logging.Error(err))
			continue
		}
		v.AssignRoute(planned)

		w.vehicles = append(w.vehicles, v)
		w.byID[id] = v
		w.occupancy[spawn] = id
		w.stats.recordSpawn()
	}
}

// Snapshot captures the committed world state for the query surface.
func (w *World) Snapshot() (state.Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return state.Snapshot{}, ErrInvalidStepRequest
	}
	snapshot := state.Snapshot{
		Tick:     w.tick,
		Vehicles: make([]state.VehicleSnapshot, 0, len(w.vehicles)),
	}
	for _, v := range w.vehicles {
		snapshot.Vehicles = append(snapshot.Vehicles, state.VehicleSnapshot{
			ID:       v.ID,
			X:        v.Cell.X,
			Z:        v.Cell.Y,
			Facing:   v.Facing.String(),
			Rotation: v.Facing.Rotation(),
			State:    v.State.String(),
		})
	}
	for _, light := range w.lights.Lights() {
		snapshot.Lights = append(snapshot.Lights, state.LightSnapshot{
			ID:    light.ID,
			X:     light.Cell.X,
			Z:     light.Cell.Y,
			Phase: light.Phase.String(),
		})
	}
	return snapshot, nil
}

// StaticCells lists the immutable map features for scene-building clients.
func (w *World) StaticCells() []state.StaticCell {
	var out []state.StaticCell
	for y := 0; y < w.grid.Height(); y++ {
		for x := 0; x < w.grid.Width(); x++ {
			cell, _ := w.grid.CellAt(x, y)
			switch cell.Kind {
			case grid.Road, grid.TrafficLight:
				out = append(out, state.StaticCell{
					ID:        fmt.Sprintf("road_%d_%d", x, y),
					X:         x,
					Z:         y,
					Kind:      "road",
					Direction: cell.Direction.String(),
				})
			case grid.Building:
				out = append(out, state.StaticCell{
					ID:   fmt.Sprintf("obs_%d_%d", x, y),
					X:    x,
					Z:    y,
					Kind: "building",
				})
			case grid.Destination:
				out = append(out, state.StaticCell{
					ID:   fmt.Sprintf("dest_%d_%d", x, y),
					X:    x,
					Z:    y,
					Kind: "destination",
				})
			}
		}
	}
	return out
}

// Stats assembles the current run statistics, including route cache counters
// and tick timing.
func (w *World) Stats() StatsSnapshot {
	w.mu.Lock()
	tick := w.tick
	active := len(w.vehicles)
	w.mu.Unlock()

	snapshot := w.stats.snapshot()
	snapshot.Tick = tick
	snapshot.ActiveVehicles = active
	snapshot.CacheHits, snapshot.CacheMisses = w.planner.Cache().Stats()
	return snapshot
}

// TickTiming exposes the step duration monitor.
func (w *World) TickTiming() TickMetricsSnapshot {
	return w.monitor.Snapshot()
}

// InvalidateCell purges cached routes through a cell that became permanently
// blocked, the hook map mutation events call.
func (w *World) InvalidateCell(c grid.Coord) int {
	return w.planner.Cache().Invalidate(c)
}
