// Package replay persists simulation runs to disk. A journal pairs a snappy
// compressed event log with a zstd compressed snapshot stream so finished
// runs can be inspected and re-driven tick by tick.
package replay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var runNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// flushEvery bounds how many snapshot frames are buffered before they are
// forced onto the zstd stream.
const flushEvery = 32

// frameBlob stores frame metadata before it is persisted to disk.
type frameBlob struct {
	Tick       uint64
	CapturedAt time.Time
	Payload    []byte
}

// Journal streams one run's artefacts to disk.
type Journal struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []frameBlob
	bytes       int64
	frames      int64
	header      Header
	closed      bool
}

// Manifest describes the journal bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version    int    `json:"version"`
	CreatedAt  string `json:"created_at"`
	EventsPath string `json:"events_path"`
	FramesPath string `json:"frames_path"`
	HeaderPath string `json:"header_path"`
}

// Stats summarises journal health for monitoring endpoints.
type Stats struct {
	BufferedFrames int
	TotalFrames    int64
	TotalBytes     int64
}

// NewJournal prepares a run directory under root and opens compressed sinks.
func NewJournal(root, runName string, clock func() time.Time) (*Journal, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("journal root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := runNameCleaner.ReplaceAllString(runName, "")
	if cleaned == "" {
		cleaned = "run"
	}
	created := clock().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(root, folder)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventsPath := filepath.Join(path, "events.jsonl.sz")
	framesPath := filepath.Join(path, "frames.bin.zst")
	manifestPath := filepath.Join(path, "manifest.json")

	eventFile, err := os.Create(eventsPath)
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(framesPath)
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:    1,
		CreatedAt:  created.Format(time.RFC3339Nano),
		EventsPath: "events.jsonl.sz",
		FramesPath: "frames.bin.zst",
		HeaderPath: "header.json",
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(manifestPath, data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	journal := &Journal{
		dir:         path,
		now:         clock,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}

	return journal, manifest, nil
}

// Directory exposes the directory backing the journal bundle.
func (j *Journal) Directory() string {
	if j == nil {
		return ""
	}
	return j.dir
}

// SetHeader configures the run metadata persisted when the journal closes.
func (j *Journal) SetHeader(header Header) {
	if j == nil {
		return
	}
	j.mu.Lock()
	header.SchemaVersion = HeaderSchemaVersion
	header.FilePointer = "manifest.json"
	j.header = header
	j.mu.Unlock()
}

// AppendEvent writes a single JSON event line to the compressed event log.
// Events record lifecycle moments such as spawns, arrivals and reroutes.
func (j *Journal) AppendEvent(tick uint64, eventType string, payload any) error {
	if j == nil {
		return fmt.Errorf("journal not initialised")
	}
	captured := j.now().UTC()

	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("journal already closed")
	}

	//1.- Wrap the payload with metadata so downstream JSONL parsers can stream it safely.
	record := struct {
		Tick       uint64          `json:"tick"`
		CapturedAt string          `json:"captured_at"`
		Type       string          `json:"type"`
		Payload    json.RawMessage `json:"payload"`
	}{
		Tick:       tick,
		CapturedAt: captured.Format(time.RFC3339Nano),
		Type:       eventType,
		Payload:    encoded,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := j.eventStream.Write(line); err != nil {
		return err
	}
	if _, err := j.eventStream.Write([]byte("\n")); err != nil {
		return err
	}
	return j.eventStream.Flush()
}

// AppendFrame buffers one tick's encoded snapshot, flushing in batches.
func (j *Journal) AppendFrame(tick uint64, payload []byte) error {
	if j == nil {
		return fmt.Errorf("journal not initialised")
	}
	captured := j.now().UTC()
	clone := append([]byte(nil), payload...)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("journal already closed")
	}

	//1.- Stage the frame so batches compress together.
	j.pending = append(j.pending, frameBlob{Tick: tick, CapturedAt: captured, Payload: clone})
	j.frames++
	j.bytes += int64(len(clone))
	if len(j.pending) >= flushEvery {
		return j.flushLocked()
	}
	return nil
}

// Flush forces pending frames to be written regardless of batch size.
func (j *Journal) Flush() error {
	if j == nil {
		return fmt.Errorf("journal not initialised")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

// Snapshot returns statistics describing the journal state.
func (j *Journal) Snapshot() Stats {
	if j == nil {
		return Stats{}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return Stats{
		BufferedFrames: len(j.pending),
		TotalFrames:    j.frames,
		TotalBytes:     j.bytes,
	}
}

// Close flushes all buffers, writes the run header and releases file handles.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	//1.- Persist the metadata header before dismantling the streaming sinks.
	var firstErr error
	header := j.header
	if header.SchemaVersion == 0 {
		header.SchemaVersion = HeaderSchemaVersion
		header.FilePointer = "manifest.json"
	}
	if err := WriteHeader(filepath.Join(j.dir, "header.json"), header); err != nil && firstErr == nil {
		firstErr = err
	}
	//2.- Attempt every flush/close and surface the first failure for callers to inspect.
	if err := j.flushLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := j.eventStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := j.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := j.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := j.frameStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := j.frameFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// flushLocked writes buffered frames to the zstd stream; callers must hold the mutex.
func (j *Journal) flushLocked() error {
	if len(j.pending) == 0 {
		return nil
	}
	//1.- Write length-prefixed frames so loaders can step without reading ahead.
	for _, frame := range j.pending {
		header := make([]byte, 8+8+4)
		binary.LittleEndian.PutUint64(header[0:8], frame.Tick)
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(frame.Payload)))
		if _, err := j.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := j.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	j.pending = j.pending[:0]
	return nil
}
