// Package persistence stores finished run records so traffic experiments can
// be compared across restarts. Two backends exist: PostgreSQL for deployments
// and a local JSON file for development.
package persistence

import (
	"time"

	"gridflow/engine/internal/simulation"
)

// RunRecord is the durable summary of one simulation run.
type RunRecord struct {
	ID         string                   `json:"id"`
	MapPath    string                   `json:"map_path"`
	Seed       int64                    `json:"seed"`
	Ticks      uint64                   `json:"ticks"`
	Stats      simulation.StatsSnapshot `json:"stats"`
	FinishedAt time.Time                `json:"finished_at"`
}

// Storage defines the interface for run record persistence.
type Storage interface {
	SaveRun(record *RunRecord) error
	LoadRun(id string) (*RunRecord, error)
	ListRuns() ([]*RunRecord, error)
	Close() error
}
