package simulation

import "sync"

// StatsSnapshot summarises a run for the metrics surface and the persisted
// run record.
type StatsSnapshot struct {
	Tick             uint64          `json:"tick"`
	ActiveVehicles   int             `json:"active_vehicles"`
	TotalSpawned     uint64          `json:"total_spawned"`
	TotalArrived     uint64          `json:"total_arrived"`
	DroppedSpawns    uint64          `json:"dropped_spawns"`
	Conflicts        uint64          `json:"conflicts"`
	Reroutes         uint64          `json:"reroutes"`
	CacheHits        uint64          `json:"cache_hits"`
	CacheMisses      uint64          `json:"cache_misses"`
	StepDistribution map[int]uint64  `json:"step_distribution"`
}

// stats accumulates run counters. The world mutates it while holding its own
// lock during commit, but snapshotting is independently safe.
type stats struct {
	mu            sync.Mutex
	spawned       uint64
	arrived       uint64
	dropped       uint64
	conflicts     uint64
	reroutes      uint64
	stepsToArrive map[int]uint64
}

func newStats() *stats {
	return &stats{stepsToArrive: make(map[int]uint64)}
}

func (s *stats) recordSpawn() {
	s.mu.Lock()
	s.spawned++
	s.mu.Unlock()
}

func (s *stats) recordDrop() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *stats) recordConflicts(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.conflicts += uint64(n)
	s.mu.Unlock()
}

func (s *stats) recordReroute() {
	s.mu.Lock()
	s.reroutes++
	s.mu.Unlock()
}

// recordArrival tallies one completed trip into the steps-to-destination
// distribution.
func (s *stats) recordArrival(steps int) {
	s.mu.Lock()
	s.arrived++
	s.stepsToArrive[steps]++
	s.mu.Unlock()
}

func (s *stats) reset() {
	s.mu.Lock()
	s.spawned = 0
	s.arrived = 0
	s.dropped = 0
	s.conflicts = 0
	s.reroutes = 0
	s.stepsToArrive = make(map[int]uint64)
	s.mu.Unlock()
}

func (s *stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	dist := make(map[int]uint64, len(s.stepsToArrive))
	for k, v := range s.stepsToArrive {
		dist[k] = v
	}
	return StatsSnapshot{
		TotalSpawned:     s.spawned,
		TotalArrived:     s.arrived,
		DroppedSpawns:    s.dropped,
		Conflicts:        s.conflicts,
		Reroutes:         s.reroutes,
		StepDistribution: dist,
	}
}
