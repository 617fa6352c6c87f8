package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gridflow/engine/internal/logging"
	"gridflow/engine/internal/simulation"
	"gridflow/engine/internal/state"
)

type stubSimulator struct {
	initialized bool
	initErr     error
	stepErr     error
	snapshot    state.Snapshot
	static      []state.StaticCell
	stats       simulation.StatsSnapshot
	timing      simulation.TickMetricsSnapshot
	initCalls   int
	stepCalls   int
}

func (s *stubSimulator) Initialize() error {
	s.initCalls++
	if s.initErr == nil {
		s.initialized = true
	}
	return s.initErr
}

func (s *stubSimulator) Step() error {
	s.stepCalls++
	if s.stepErr != nil {
		return s.stepErr
	}
	s.snapshot.Tick++
	return nil
}

func (s *stubSimulator) Initialized() bool { return s.initialized }

func (s *stubSimulator) Snapshot() (state.Snapshot, error) {
	if !s.initialized {
		return state.Snapshot{}, simulation.ErrInvalidStepRequest
	}
	return s.snapshot, nil
}

func (s *stubSimulator) StaticCells() []state.StaticCell { return s.static }

func (s *stubSimulator) Dimensions() (int, int) { return 8, 4 }

func (s *stubSimulator) Stats() simulation.StatsSnapshot { return s.stats }

func (s *stubSimulator) TickTiming() simulation.TickMetricsSnapshot { return s.timing }

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

func TestInitHandlerResetsTheWorld(t *testing.T) {
	sim := &stubSimulator{snapshot: state.Snapshot{
		Vehicles: []state.VehicleSnapshot{{ID: 0}, {ID: 1}},
	}}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Simulator: sim})

	rr := httptest.NewRecorder()
	handlers.InitHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/init", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Status   string `json:"status"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		Vehicles int    `json:"vehicles"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "ok" || payload.Width != 8 || payload.Height != 4 || payload.Vehicles != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if sim.initCalls != 1 {
		t.Fatalf("expected one initialize call, got %d", sim.initCalls)
	}
}

func TestInitHandlerRejectsGet(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Simulator: &stubSimulator{}})
	rr := httptest.NewRecorder()
	handlers.InitHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/init", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestInitHandlerRateLimited(t *testing.T) {
	sim := &stubSimulator{}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Simulator:   sim,
		RateLimiter: &stubLimiter{remaining: 1},
	})

	first := httptest.NewRecorder()
	handlers.InitHandler().ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/init", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first init allowed, got %d", first.Code)
	}
	second := httptest.NewRecorder()
	handlers.InitHandler().ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/init", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", second.Code)
	}
	if sim.initCalls != 1 {
		t.Fatalf("expected one initialize call, got %d", sim.initCalls)
	}
}

func TestUpdateHandlerRequiresInitialization(t *testing.T) {
	sim := &stubSimulator{stepErr: simulation.ErrInvalidStepRequest}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Simulator: sim})

	rr := httptest.NewRecorder()
	handlers.UpdateHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/update", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 before initialization, got %d", rr.Code)
	}
}

func TestUpdateHandlerAdvancesTick(t *testing.T) {
	sim := &stubSimulator{initialized: true, snapshot: state.Snapshot{Tick: 6}}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Simulator: sim})

	rr := httptest.NewRecorder()
	handlers.UpdateHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/update", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Status string `json:"status"`
		Tick   uint64 `json:"tick"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "ok" || payload.Tick != 7 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestCarsHandlerListsVehicles(t *testing.T) {
	sim := &stubSimulator{initialized: true, snapshot: state.Snapshot{
		Tick: 3,
		Vehicles: []state.VehicleSnapshot{
			{ID: 4, X: 1, Z: 2, Facing: "east", State: "moving"},
		},
	}}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Simulator: sim})

	rr := httptest.NewRecorder()
	handlers.CarsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/getCars", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Tick      uint64                  `json:"tick"`
		Positions []state.VehicleSnapshot `json:"positions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Tick != 3 || len(payload.Positions) != 1 || payload.Positions[0].ID != 4 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestCarsHandlerBeforeInitialization(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Simulator: &stubSimulator{}})
	rr := httptest.NewRecorder()
	handlers.CarsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/getCars", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 before initialization, got %d", rr.Code)
	}
}

func TestStaticHandlersFilterByKind(t *testing.T) {
	sim := &stubSimulator{initialized: true, static: []state.StaticCell{
		{ID: "road_0_0", Kind: "road"},
		{ID: "road_1_0", Kind: "road"},
		{ID: "obs_2_0", Kind: "building"},
		{ID: "dest_3_0", Kind: "destination"},
	}}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Simulator: sim})

	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"streets", handlers.StreetsHandler(), 2},
		{"buildings", handlers.BuildingsHandler(), 1},
		{"destinations", handlers.DestinationsHandler(), 1},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		tc.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		var payload struct {
			Positions []state.StaticCell `json:"positions"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
			t.Fatalf("%s: decode response: %v", tc.name, err)
		}
		if len(payload.Positions) != tc.want {
			t.Fatalf("%s: expected %d cells, got %+v", tc.name, tc.want, payload.Positions)
		}
	}
}

func TestReadinessHandlerReflectsWorldState(t *testing.T) {
	sim := &stubSimulator{}
	handlers := NewHandlerSet(Options{
		Logger:    logging.NewTestLogger(),
		Simulator: sim,
		Clients:   func() int { return 3 },
	})

	rr := httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before initialization, got %d", rr.Code)
	}

	sim.initialized = true
	rr = httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after initialization, got %d", rr.Code)
	}
	var payload struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "ok" || payload.Clients != 3 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2026, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{
		Logger:     logging.NewTestLogger(),
		Simulator:  &stubSimulator{},
		TimeSource: func() time.Time { return fixed },
	})

	rr := httptest.NewRecorder()
	handlers.LivenessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %q", payload.Timestamp)
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	sim := &stubSimulator{
		initialized: true,
		stats: simulation.StatsSnapshot{
			Tick:           12,
			ActiveVehicles: 5,
			TotalSpawned:   9,
			TotalArrived:   4,
			Conflicts:      2,
			Reroutes:       1,
			CacheHits:      7,
			CacheMisses:    3,
		},
		timing: simulation.TickMetricsSnapshot{Samples: 12, Average: 2 * time.Millisecond},
	}
	handlers := NewHandlerSet(Options{
		Logger:    logging.NewTestLogger(),
		Simulator: sim,
		Clients:   func() int { return 2 },
	})

	rr := httptest.NewRecorder()
	handlers.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"gridflow_tick 12",
		"gridflow_active_vehicles 5",
		"gridflow_vehicles_spawned_total 9",
		"gridflow_vehicles_arrived_total 4",
		"gridflow_move_conflicts_total 2",
		"gridflow_reroutes_total 1",
		"gridflow_route_cache_hits_total 7",
		"gridflow_route_cache_misses_total 3",
		"gridflow_tick_duration_seconds_avg 0.002000",
		"gridflow_stream_clients 2",
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
}
