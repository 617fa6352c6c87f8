package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// JSONStore persists run records in a local JSON file.
type JSONStore struct {
	filePath string
	mutex    sync.RWMutex
	data     *jsonData
}

type jsonData struct {
	Runs map[string]*RunRecord `json:"runs"`
}

// NewJSONStore creates a new JSON storage manager.
func NewJSONStore(filePath string) (*JSONStore, error) {
	store := &JSONStore{
		filePath: filePath,
		data: &jsonData{
			Runs: make(map[string]*RunRecord),
		},
	}

	// Load existing data if file exists
	if _, err := os.Stat(filePath); err == nil {
		if err := store.loadFromFile(); err != nil {
			return nil, fmt.Errorf("failed to load JSON store: %v", err)
		}
	} else {
		// Create file if it doesn't exist
		if err := store.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to create JSON store file: %v", err)
		}
	}

	return store, nil
}

func (js *JSONStore) loadFromFile() error {
	js.mutex.Lock()
	defer js.mutex.Unlock()

	file, err := os.ReadFile(js.filePath)
	if err != nil {
		return err
	}

	return json.Unmarshal(file, js.data)
}

func (js *JSONStore) saveToFile() error {
	js.mutex.Lock()
	defer js.mutex.Unlock()

	data, err := json.MarshalIndent(js.data, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(js.filePath, data, 0644)
}

// SaveRun saves a run record to the store.
func (js *JSONStore) SaveRun(record *RunRecord) error {
	js.mutex.Lock()
	js.data.Runs[record.ID] = record
	js.mutex.Unlock()

	return js.saveToFile()
}

// LoadRun loads a run record by ID.
func (js *JSONStore) LoadRun(id string) (*RunRecord, error) {
	js.mutex.RLock()
	defer js.mutex.RUnlock()

	record, exists := js.data.Runs[id]
	if !exists {
		return nil, fmt.Errorf("run with ID %s not found", id)
	}

	return record, nil
}

// ListRuns returns every stored run record, newest first.
func (js *JSONStore) ListRuns() ([]*RunRecord, error) {
	js.mutex.RLock()
	defer js.mutex.RUnlock()

	records := make([]*RunRecord, 0, len(js.data.Runs))
	for _, record := range js.data.Runs {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].FinishedAt.After(records[j].FinishedAt)
	})

	return records, nil
}

// Close flushes the store to disk.
func (js *JSONStore) Close() error {
	return js.saveToFile()
}
