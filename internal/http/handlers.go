// Package httpapi exposes the simulation over HTTP: lifecycle endpoints that
// initialize and step the world, query endpoints for its dynamic and static
// state, and the operational probes a deployment expects.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gridflow/engine/internal/logging"
	"gridflow/engine/internal/simulation"
	"gridflow/engine/internal/state"
)

// Simulator is the world surface the handlers drive.
type Simulator interface {
	Initialize() error
	Step() error
	Initialized() bool
	Snapshot() (state.Snapshot, error)
	StaticCells() []state.StaticCell
	Dimensions() (width, height int)
	Stats() simulation.StatsSnapshot
	TickTiming() simulation.TickMetricsSnapshot
}

// ClientsFunc returns the number of connected stream clients.
type ClientsFunc func() int

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Simulator   Simulator
	Clients     ClientsFunc
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the simulation HTTP handlers.
type HandlerSet struct {
	logger      *logging.Logger
	sim         Simulator
	clients     ClientsFunc
	rateLimiter RateLimiter
	now         func() time.Time
	started     time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		sim:         opts.Simulator,
		clients:     opts.Clients,
		rateLimiter: opts.RateLimiter,
		now:         now,
		started:     now(),
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/init", h.InitHandler())
	mux.HandleFunc("/update", h.UpdateHandler())
	mux.HandleFunc("/getCars", h.CarsHandler())
	mux.HandleFunc("/getTrafficLights", h.TrafficLightsHandler())
	mux.HandleFunc("/getBuildings", h.BuildingsHandler())
	mux.HandleFunc("/getStreets", h.StreetsHandler())
	mux.HandleFunc("/getDestinations", h.DestinationsHandler())
	mux.HandleFunc("/stats", h.StatsHandler())
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
}

// InitHandler resets the world to its initial state.
func (h *HandlerSet) InitHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		Vehicles int    `json:"vehicles"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "init"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("init denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if err := h.sim.Initialize(); err != nil {
			reqLogger.Error("world initialization failed", logging.Error(err))
			http.Error(w, "failed to initialize the world", http.StatusInternalServerError)
			return
		}
		width, height := h.sim.Dimensions()
		snapshot, err := h.sim.Snapshot()
		if err != nil {
			http.Error(w, "failed to read the initial state", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("world initialized", logging.Int("vehicles", len(snapshot.Vehicles)))
		writeJSON(w, http.StatusOK, response{
			Status:   "ok",
			Width:    width,
			Height:   height,
			Vehicles: len(snapshot.Vehicles),
		})
	}
}

// UpdateHandler advances the world by one tick.
func (h *HandlerSet) UpdateHandler() http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
		Tick   uint64 `json:"tick"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := h.sim.Step(); err != nil {
			if errors.Is(err, simulation.ErrInvalidStepRequest) {
				http.Error(w, "simulation has not been initialized", http.StatusConflict)
				return
			}
			h.logger.Error("step failed", logging.Error(err))
			http.Error(w, "failed to advance the simulation", http.StatusInternalServerError)
			return
		}
		snapshot, err := h.sim.Snapshot()
		if err != nil {
			http.Error(w, "failed to read the stepped state", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, response{Status: "ok", Tick: snapshot.Tick})
	}
}

// CarsHandler lists every active vehicle with its cell and heading.
func (h *HandlerSet) CarsHandler() http.HandlerFunc {
	type response struct {
		Tick      uint64                  `json:"tick"`
		Positions []state.VehicleSnapshot `json:"positions"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, ok := h.requireSnapshot(w)
		if !ok {
			return
		}
		positions := snapshot.Vehicles
		if positions == nil {
			positions = []state.VehicleSnapshot{}
		}
		writeJSON(w, http.StatusOK, response{Tick: snapshot.Tick, Positions: positions})
	}
}

// TrafficLightsHandler lists every signal with its current phase.
func (h *HandlerSet) TrafficLightsHandler() http.HandlerFunc {
	type response struct {
		Tick      uint64                `json:"tick"`
		Positions []state.LightSnapshot `json:"positions"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, ok := h.requireSnapshot(w)
		if !ok {
			return
		}
		positions := snapshot.Lights
		if positions == nil {
			positions = []state.LightSnapshot{}
		}
		writeJSON(w, http.StatusOK, response{Tick: snapshot.Tick, Positions: positions})
	}
}

// BuildingsHandler lists the static obstacle cells.
func (h *HandlerSet) BuildingsHandler() http.HandlerFunc {
	return h.staticHandler("building")
}

// StreetsHandler lists the static road cells, signals included.
func (h *HandlerSet) StreetsHandler() http.HandlerFunc {
	return h.staticHandler("road")
}

// DestinationsHandler lists the destination cells.
func (h *HandlerSet) DestinationsHandler() http.HandlerFunc {
	return h.staticHandler("destination")
}

func (h *HandlerSet) staticHandler(kind string) http.HandlerFunc {
	type response struct {
		Positions []state.StaticCell `json:"positions"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		positions := []state.StaticCell{}
		for _, cell := range h.sim.StaticCells() {
			if cell.Kind == kind {
				positions = append(positions, cell)
			}
		}
		writeJSON(w, http.StatusOK, response{Positions: positions})
	}
}

// StatsHandler reports the cumulative run statistics as JSON.
func (h *HandlerSet) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.sim.Stats())
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports whether the world can serve queries.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{
			Status:        "ok",
			UptimeSeconds: h.now().Sub(h.started).Seconds(),
		}
		if h.clients != nil {
			resp.Clients = h.clients()
		}
		if !h.sim.Initialized() {
			status = http.StatusServiceUnavailable
			resp.Status = "error"
			resp.Message = "world not initialized"
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := h.sim.Stats()
		timing := h.sim.TickTiming()
		clients := 0
		if h.clients != nil {
			clients = h.clients()
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP gridflow_tick Current committed simulation tick.\n")
		fmt.Fprintf(w, "# TYPE gridflow_tick counter\n")
		fmt.Fprintf(w, "gridflow_tick %d\n", stats.Tick)

		fmt.Fprintf(w, "# HELP gridflow_active_vehicles Vehicles currently in the world.\n")
		fmt.Fprintf(w, "# TYPE gridflow_active_vehicles gauge\n")
		fmt.Fprintf(w, "gridflow_active_vehicles %d\n", stats.ActiveVehicles)

		fmt.Fprintf(w, "# HELP gridflow_vehicles_spawned_total Vehicles spawned since initialization.\n")
		fmt.Fprintf(w, "# TYPE gridflow_vehicles_spawned_total counter\n")
		fmt.Fprintf(w, "gridflow_vehicles_spawned_total %d\n", stats.TotalSpawned)

		fmt.Fprintf(w, "# HELP gridflow_vehicles_arrived_total Vehicles retired at their destination.\n")
		fmt.Fprintf(w, "# TYPE gridflow_vehicles_arrived_total counter\n")
		fmt.Fprintf(w, "gridflow_vehicles_arrived_total %d\n", stats.TotalArrived)

		fmt.Fprintf(w, "# HELP gridflow_spawns_dropped_total Spawns dropped because no route existed.\n")
		fmt.Fprintf(w, "# TYPE gridflow_spawns_dropped_total counter\n")
		fmt.Fprintf(w, "gridflow_spawns_dropped_total %d\n", stats.DroppedSpawns)

		fmt.Fprintf(w, "# HELP gridflow_move_conflicts_total Moves denied by conflict resolution.\n")
		fmt.Fprintf(w, "# TYPE gridflow_move_conflicts_total counter\n")
		fmt.Fprintf(w, "gridflow_move_conflicts_total %d\n", stats.Conflicts)

		fmt.Fprintf(w, "# HELP gridflow_reroutes_total Successful congestion reroutes.\n")
		fmt.Fprintf(w, "# TYPE gridflow_reroutes_total counter\n")
		fmt.Fprintf(w, "gridflow_reroutes_total %d\n", stats.Reroutes)

		fmt.Fprintf(w, "# HELP gridflow_route_cache_hits_total Route cache lookups served from memory.\n")
		fmt.Fprintf(w, "# TYPE gridflow_route_cache_hits_total counter\n")
		fmt.Fprintf(w, "gridflow_route_cache_hits_total %d\n", stats.CacheHits)

		fmt.Fprintf(w, "# HELP gridflow_route_cache_misses_total Route cache lookups that planned afresh.\n")
		fmt.Fprintf(w, "# TYPE gridflow_route_cache_misses_total counter\n")
		fmt.Fprintf(w, "gridflow_route_cache_misses_total %d\n", stats.CacheMisses)

		fmt.Fprintf(w, "# HELP gridflow_tick_duration_seconds_avg Average step duration over the sample window.\n")
		fmt.Fprintf(w, "# TYPE gridflow_tick_duration_seconds_avg gauge\n")
		fmt.Fprintf(w, "gridflow_tick_duration_seconds_avg %.6f\n", timing.Average.Seconds())

		fmt.Fprintf(w, "# HELP gridflow_stream_clients Connected WebSocket stream clients.\n")
		fmt.Fprintf(w, "# TYPE gridflow_stream_clients gauge\n")
		fmt.Fprintf(w, "gridflow_stream_clients %d\n", clients)
	}
}

func (h *HandlerSet) requireSnapshot(w http.ResponseWriter) (state.Snapshot, bool) {
	snapshot, err := h.sim.Snapshot()
	if err != nil {
		if errors.Is(err, simulation.ErrInvalidStepRequest) {
			http.Error(w, "simulation has not been initialized", http.StatusConflict)
			return state.Snapshot{}, false
		}
		http.Error(w, "failed to read the world state", http.StatusInternalServerError)
		return state.Snapshot{}, false
	}
	return snapshot, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
