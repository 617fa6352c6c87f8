package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"gridflow/engine/internal/simulation"
)

func TestJSONStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	record := &RunRecord{
		ID:      "run-1",
		MapPath: "maps/city.txt",
		Seed:    7,
		Ticks:   120,
		Stats: simulation.StatsSnapshot{
			Tick:         120,
			TotalSpawned: 30,
			TotalArrived: 28,
			Reroutes:     3,
		},
		FinishedAt: time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.SaveRun(record); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	//1.- A fresh store reads the same file back.
	reopened, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	loaded, err := reopened.LoadRun("run-1")
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if loaded.Seed != 7 || loaded.Ticks != 120 || loaded.Stats.TotalArrived != 28 {
		t.Fatalf("unexpected record: %+v", loaded)
	}
}

func TestJSONStoreLoadMissingRun(t *testing.T) {
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "stats.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.LoadRun("absent"); err == nil {
		t.Fatal("expected missing run to error")
	}
}

func TestJSONStoreListRunsNewestFirst(t *testing.T) {
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "stats.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	older := &RunRecord{ID: "run-old", FinishedAt: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)}
	newer := &RunRecord{ID: "run-new", FinishedAt: time.Date(2026, time.April, 2, 0, 0, 0, 0, time.UTC)}
	if err := store.SaveRun(older); err != nil {
		t.Fatalf("save older: %v", err)
	}
	if err := store.SaveRun(newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	records, err := store.ListRuns()
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(records) != 2 || records[0].ID != "run-new" || records[1].ID != "run-old" {
		t.Fatalf("unexpected order: %+v", records)
	}
}
