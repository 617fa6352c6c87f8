package route

import (
	"errors"
	"testing"

	"gridflow/engine/internal/grid"
)

func mustGrid(t *testing.T, lines []string) *grid.Grid {
	t.Helper()
	g, err := grid.Parse(lines)
	if err != nil {
		t.Fatalf("grid.Parse() returned error: %v", err)
	}
	return g
}

func TestPlanFollowsOneWayRoad(t *testing.T) {
	g := mustGrid(t, []string{">>D"})
	planner := NewPlanner(g)

	r, err := planner.Plan(grid.Coord{X: 0, Y: 0}, grid.Coord{X: 2, Y: 0})
	if err != nil {
		t.Fatalf("Plan() returned error: %v", err)
	}
	want := []grid.Coord{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}}
	got := r.Cells()
	if len(got) != len(want) {
		t.Fatalf("unexpected route length: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("route[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPlanRespectsDirectionConstraints(t *testing.T) {
	g := mustGrid(t, []string{"D<<"})
	planner := NewPlanner(g)

	// Driving against the westbound road is impossible.
	_, err := planner.Plan(grid.Coord{X: 0, Y: 0}, grid.Coord{X: 2, Y: 0})
	var noPath *NoPathError
	if !errors.As(err, &noPath) {
		t.Fatalf("expected NoPathError, got %v", err)
	}
	if noPath.Origin != (grid.Coord{X: 0, Y: 0}) || noPath.Destination != (grid.Coord{X: 2, Y: 0}) {
		t.Fatalf("unexpected error detail: %+v", noPath)
	}

	// The legal direction works.
	if _, err := planner.Plan(grid.Coord{X: 2, Y: 0}, grid.Coord{X: 0, Y: 0}); err != nil {
		t.Fatalf("Plan() returned error: %v", err)
	}
}

func TestPlanMemoizesRoutes(t *testing.T) {
	g := mustGrid(t, []string{">>D"})
	planner := NewPlanner(g)
	origin, dest := grid.Coord{X: 0, Y: 0}, grid.Coord{X: 2, Y: 0}

	first, err := planner.Plan(origin, dest)
	if err != nil {
		t.Fatalf("Plan() returned error: %v", err)
	}
	second, err := planner.Plan(origin, dest)
	if err != nil {
		t.Fatalf("Plan() returned error: %v", err)
	}
	if first != second {
		t.Fatalf("expected the cached route instance on the second call")
	}
	hits, misses := planner.Cache().Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %d/%d", hits, misses)
	}
}

func TestInvalidatePurgesCrossingRoutes(t *testing.T) {
	g := mustGrid(t, []string{">>>D"})
	planner := NewPlanner(g)
	if _, err := planner.Plan(grid.Coord{X: 0, Y: 0}, grid.Coord{X: 3, Y: 0}); err != nil {
		t.Fatalf("Plan() returned error: %v", err)
	}
	if _, err := planner.Plan(grid.Coord{X: 2, Y: 0}, grid.Coord{X: 3, Y: 0}); err != nil {
		t.Fatalf("Plan() returned error: %v", err)
	}
	if planner.Cache().Len() != 2 {
		t.Fatalf("expected 2 cached routes, got %d", planner.Cache().Len())
	}

	// Blocking (1,0) only crosses the long route.
	if purged := planner.Cache().Invalidate(grid.Coord{X: 1, Y: 0}); purged != 1 {
		t.Fatalf("expected 1 purged entry, got %d", purged)
	}
	if planner.Cache().Len() != 1 {
		t.Fatalf("expected 1 surviving route, got %d", planner.Cache().Len())
	}
}

func TestPlanTieBreakPrefersFacing(t *testing.T) {
	// Two equal-length paths to the destination: straight east then north, or
	// lane change north then east. The origin faces east, so the route must
	// open with the eastward step.
	g := mustGrid(t, []string{
		">>D",
		">>^",
	})
	planner := NewPlanner(g)
	r, err := planner.Plan(grid.Coord{X: 0, Y: 0}, grid.Coord{X: 2, Y: 1})
	if err != nil {
		t.Fatalf("Plan() returned error: %v", err)
	}
	cells := r.Cells()
	if len(cells) < 2 {
		t.Fatalf("unexpected route %v", cells)
	}
	if cells[1] != (grid.Coord{X: 1, Y: 0}) {
		t.Fatalf("expected first step east to (1,0), got %v", cells[1])
	}
}

func TestPlanAvoidingSkipsBlockedNeighbor(t *testing.T) {
	g := mustGrid(t, []string{
		">>D",
		">>^",
	})
	planner := NewPlanner(g)
	origin := grid.Coord{X: 0, Y: 0}
	dest := grid.Coord{X: 2, Y: 1}

	r, err := planner.PlanAvoiding(origin, dest, grid.Coord{X: 1, Y: 0})
	if err != nil {
		t.Fatalf("PlanAvoiding() returned error: %v", err)
	}
	if r.Crosses(grid.Coord{X: 1, Y: 0}) {
		t.Fatalf("route %v crosses the avoided cell", r.Cells())
	}
	// Avoided replans bypass the cache entirely.
	if planner.Cache().Len() != 0 {
		t.Fatalf("expected avoidance plan to stay out of the cache")
	}
}

func TestPlanOriginEqualsDestination(t *testing.T) {
	g := mustGrid(t, []string{">>D"})
	planner := NewPlanner(g)
	r, err := planner.Plan(grid.Coord{X: 1, Y: 0}, grid.Coord{X: 1, Y: 0})
	if err != nil {
		t.Fatalf("Plan() returned error: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected single-cell route, got %v", r.Cells())
	}
}
