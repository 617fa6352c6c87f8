// Package state carries the committed-tick world snapshots consumed by the
// query surface, the stream hub, and the replay journal. A snapshot is always
// a fully committed tick; readers never observe an in-progress step.
package state

import "sync"

// VehicleSnapshot is one live vehicle as exposed to rendering clients. Grid
// coordinates map onto world axes with y becoming z.
type VehicleSnapshot struct {
	ID       int     `json:"id"`
	X        int     `json:"x"`
	Z        int     `json:"z"`
	Facing   string  `json:"facing"`
	Rotation float64 `json:"rotation"`
	State    string  `json:"state"`
}

// LightSnapshot is one traffic light as exposed to rendering clients.
type LightSnapshot struct {
	ID    string `json:"id"`
	X     int    `json:"x"`
	Z     int    `json:"z"`
	Phase string `json:"phase"`
}

// StaticCell describes an immutable map feature (roads, buildings,
// destinations) for clients that build the scene once.
type StaticCell struct {
	ID        string `json:"id"`
	X         int    `json:"x"`
	Z         int    `json:"z"`
	Kind      string `json:"kind"`
	Direction string `json:"direction,omitempty"`
}

// Snapshot is the full committed world state for one tick.
type Snapshot struct {
	Tick     uint64            `json:"tick"`
	Vehicles []VehicleSnapshot `json:"vehicles"`
	Lights   []LightSnapshot   `json:"lights"`
}

// Store retains the latest committed snapshot behind a read-write lock so the
// HTTP surface and stream hub read without blocking the scheduler.
type Store struct {
	mu     sync.RWMutex
	latest Snapshot
	valid  bool
}

// NewStore constructs an empty snapshot store.
func NewStore() *Store {
	return &Store{}
}

// Publish replaces the stored snapshot with a newly committed tick.
func (s *Store) Publish(snapshot Snapshot) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.latest = snapshot
	s.valid = true
	s.mu.Unlock()
}

// Latest returns the most recently committed snapshot, reporting false before
// the first publish.
func (s *Store) Latest() (Snapshot, bool) {
	if s == nil {
		return Snapshot{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.valid
}

// Reset clears the stored snapshot, used when the world re-initializes.
func (s *Store) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.latest = Snapshot{}
	s.valid = false
	s.mu.Unlock()
}
