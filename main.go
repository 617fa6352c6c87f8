package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridflow/engine/internal/config"
	"gridflow/engine/internal/grid"
	httpapi "gridflow/engine/internal/http"
	"gridflow/engine/internal/lights"
	"gridflow/engine/internal/logging"
	"gridflow/engine/internal/persistence"
	"gridflow/engine/internal/replay"
	"gridflow/engine/internal/simulation"
	"gridflow/engine/internal/state"
	"gridflow/engine/internal/stream"
)

// engine couples the world with the side effects of stepping it: every
// committed tick is published to the snapshot store, broadcast to stream
// clients and journaled when recording is enabled.
type engine struct {
	*simulation.World
	store   *state.Store
	hub     *stream.Hub
	journal *replay.Journal
	logger  *logging.Logger
}

func (e *engine) Initialize() error {
	if err := e.World.Initialize(); err != nil {
		return err
	}
	e.store.Reset()
	return e.publish()
}

func (e *engine) Step() error {
	if err := e.World.Step(); err != nil {
		return err
	}
	return e.publish()
}

func (e *engine) publish() error {
	snapshot, err := e.World.Snapshot()
	if err != nil {
		return err
	}
	e.store.Publish(snapshot)
	e.hub.Broadcast(snapshot)
	if e.journal != nil {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		if err := e.journal.AppendFrame(snapshot.Tick, payload); err != nil {
			e.logger.Warn("journal frame write failed", logging.Error(err))
		}
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//1.- Load the immutable city map the whole run simulates.
	cityMap, err := grid.Load(cfg.MapPath)
	if err != nil {
		logger.Error("city map load failed", logging.String("path", cfg.MapPath), logging.Error(err))
		os.Exit(1)
	}

	world := simulation.NewWorld(cityMap, simulation.Params{
		Lights: lights.Durations{
			Green:  cfg.GreenTicks,
			Yellow: cfg.YellowTicks,
			Red:    cfg.RedTicks,
		},
		SpawnInterval:    cfg.SpawnInterval,
		PopulationCap:    cfg.PopulationCap,
		RerouteThreshold: cfg.RerouteThreshold,
		Seed:             cfg.Seed,
	}, logger)

	store := state.NewStore()
	hub := stream.NewHub(store, logger)

	//2.- Journaling and retention are optional: no directory, no recording.
	var journal *replay.Journal
	if cfg.ReplayDir != "" {
		j, manifest, err := replay.NewJournal(cfg.ReplayDir, "run", nil)
		if err != nil {
			logger.Error("journal setup failed", logging.Error(err))
			os.Exit(1)
		}
		j.SetHeader(replay.Header{
			MapPath:       cfg.MapPath,
			Seed:          cfg.Seed,
			GreenTicks:    cfg.GreenTicks,
			YellowTicks:   cfg.YellowTicks,
			RedTicks:      cfg.RedTicks,
			SpawnInterval: cfg.SpawnInterval,
		})
		journal = j
		logger.Info("journaling enabled", logging.String("bundle", j.Directory()), logging.String("manifest", manifest.CreatedAt))

		cleaner := replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{MaxRuns: 20}, logger)
		go cleaner.Run(ctx, time.Hour)
	}

	//3.- Run records go to Postgres when a DSN is configured, else a JSON file.
	var runs persistence.Storage
	if cfg.StatsDSN != "" {
		runs, err = persistence.NewPostgresStore(cfg.StatsDSN)
	} else {
		runs, err = persistence.NewJSONStore(cfg.StatsPath)
	}
	if err != nil {
		logger.Error("run storage setup failed", logging.Error(err))
		os.Exit(1)
	}

	eng := &engine{World: world, store: store, hub: hub, journal: journal, logger: logger}

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Simulator:   eng,
		Clients:     hub.ClientCount,
		RateLimiter: httpapi.NewSlidingWindowLimiter(time.Minute, 10, nil),
	})
	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.HandleFunc("/ws", hub.ServeWS)

	server := &http.Server{
		Addr:    cfg.Address,
		Handler: logging.HTTPTraceMiddleware(logger)(mux),
	}

	//4.- Free-running mode initializes eagerly and steps on a timer; otherwise
	// clients drive the world through /init and /update.
	var loop *simulation.Loop
	if cfg.AutoStepHz > 0 {
		if err := eng.Initialize(); err != nil {
			logger.Error("world initialization failed", logging.Error(err))
			os.Exit(1)
		}
		loop = simulation.NewLoop(cfg.AutoStepHz, eng.Step)
		loop.Start(ctx)
		logger.Info("free-running mode enabled", logging.Float64("hz", cfg.AutoStepHz))
	}

	go func() {
		logger.Info("engine listening", logging.String("address", cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", logging.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	if loop != nil {
		loop.Stop()
	}

	//5.- Persist the finished run before releasing resources.
	if world.Initialized() {
		stats := world.Stats()
		record := &persistence.RunRecord{
			ID:         fmt.Sprintf("run-%s", time.Now().UTC().Format("20060102T150405Z")),
			MapPath:    cfg.MapPath,
			Seed:       cfg.Seed,
			Ticks:      stats.Tick,
			Stats:      stats,
			FinishedAt: time.Now().UTC(),
		}
		if err := runs.SaveRun(record); err != nil {
			logger.Warn("run record save failed", logging.Error(err))
		} else {
			logger.Info("run record saved", logging.String("id", record.ID), logging.Uint64("ticks", record.Ticks))
		}
	}
	if err := runs.Close(); err != nil {
		logger.Warn("run storage close failed", logging.Error(err))
	}
	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.Warn("journal close failed", logging.Error(err))
		}
	}
}
