package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Frame is one decoded snapshot from a journal's frame stream.
type Frame struct {
	Tick       uint64
	CapturedAt time.Time
	Payload    []byte
}

// Event is one decoded line from a journal's event log.
type Event struct {
	Tick       uint64          `json:"tick"`
	CapturedAt string          `json:"captured_at"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

// Loader rehydrates a journal bundle for validation workflows.
type Loader struct {
	frames []Frame
	events []Event
}

// Load opens the bundle directory, resolves its manifest and decodes both
// artefact streams.
func Load(dir string) (*Loader, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal directory must be provided")
	}

	manifestData, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, err
	}

	frames, err := loadFrames(filepath.Join(dir, manifest.FramesPath))
	if err != nil {
		return nil, err
	}
	events, err := loadEvents(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return nil, err
	}
	return &Loader{frames: frames, events: events}, nil
}

func loadFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stream, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var frames []Frame
	header := make([]byte, 8+8+4)
	for {
		//1.- Each frame carries a fixed header followed by its payload bytes.
		if _, err := io.ReadFull(stream, header); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, err
		}
		tick := binary.LittleEndian.Uint64(header[0:8])
		captured := time.Unix(0, int64(binary.LittleEndian.Uint64(header[8:16]))).UTC()
		size := binary.LittleEndian.Uint32(header[16:20])
		payload := make([]byte, size)
		if _, err := io.ReadFull(stream, payload); err != nil {
			return nil, fmt.Errorf("truncated frame at tick %d: %w", tick, err)
		}
		frames = append(frames, Frame{Tick: tick, CapturedAt: captured, Payload: payload})
	}
}

func loadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var events []Event
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Replay iterates over the loaded frames in recorded order.
func (l *Loader) Replay(apply func(Frame) error) error {
	if l == nil {
		return fmt.Errorf("loader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, frame := range l.frames {
		//1.- Invoke the callback for each frame to drive the validation run.
		if err := apply(frame); err != nil {
			return err
		}
	}
	return nil
}

// Frames exposes a defensive copy of the decoded snapshot stream.
func (l *Loader) Frames() []Frame {
	if l == nil {
		return nil
	}
	out := make([]Frame, len(l.frames))
	copy(out, l.frames)
	return out
}

// Events exposes a defensive copy of the decoded event log.
func (l *Loader) Events() []Event {
	if l == nil {
		return nil
	}
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
