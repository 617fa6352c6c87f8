package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"gridflow/engine/internal/simulation"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore persists run records using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL storage manager.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	store := &PostgresStore{db: db}

	// Initialize the database schema
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %v", err)
	}

	return store, nil
}

// initSchema initializes the database schema.
func (ps *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		map_path TEXT NOT NULL,
		seed BIGINT NOT NULL,
		ticks BIGINT NOT NULL,
		stats JSONB NOT NULL,
		finished_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`

	_, err := ps.db.Exec(schema)
	return err
}

// SaveRun saves a run record to the database.
func (ps *PostgresStore) SaveRun(record *RunRecord) error {
	statsJSON, err := json.Marshal(record.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %v", err)
	}

	query := `
	INSERT INTO runs (id, map_path, seed, ticks, stats, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id)
	DO UPDATE SET
		ticks = $4, stats = $5, finished_at = $6
	`

	_, err = ps.db.Exec(query,
		record.ID, record.MapPath, record.Seed, record.Ticks,
		string(statsJSON), record.FinishedAt)

	if err != nil {
		return fmt.Errorf("failed to save run: %v", err)
	}

	return nil
}

// LoadRun loads a run record from the database by ID.
func (ps *PostgresStore) LoadRun(id string) (*RunRecord, error) {
	query := `SELECT id, map_path, seed, ticks, stats, finished_at FROM runs WHERE id = $1`

	var record RunRecord
	var statsJSON string

	err := ps.db.QueryRow(query, id).Scan(
		&record.ID, &record.MapPath, &record.Seed, &record.Ticks,
		&statsJSON, &record.FinishedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to load run: %v", err)
	}

	if err := json.Unmarshal([]byte(statsJSON), &record.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run stats: %v", err)
	}

	return &record, nil
}

// ListRuns loads every stored run record, newest first.
func (ps *PostgresStore) ListRuns() ([]*RunRecord, error) {
	query := `SELECT id, map_path, seed, ticks, stats, finished_at FROM runs ORDER BY finished_at DESC`

	rows, err := ps.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %v", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		var record RunRecord
		var statsJSON string
		if err := rows.Scan(
			&record.ID, &record.MapPath, &record.Seed, &record.Ticks,
			&statsJSON, &record.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %v", err)
		}
		var stats simulation.StatsSnapshot
		if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run stats: %v", err)
		}
		record.Stats = stats
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %v", err)
	}

	return records, nil
}

// Close closes the database connection.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}
