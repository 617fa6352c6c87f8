package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, time.February, 3, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestNewJournalCreatesBundle(t *testing.T) {
	root := t.TempDir()
	journal, manifest, err := NewJournal(root, "morning rush!", fixedClock())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	defer journal.Close()

	if manifest.Version != 1 || manifest.EventsPath != "events.jsonl.sz" || manifest.FramesPath != "frames.bin.zst" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
	dir := journal.Directory()
	if filepath.Base(dir) != "morningrush-20260203T100000Z" {
		t.Fatalf("unexpected bundle name %q", filepath.Base(dir))
	}
	for _, name := range []string{"manifest.json", "events.jsonl.sz", "frames.bin.zst"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s in bundle: %v", name, err)
		}
	}
}

func TestJournalRoundTrip(t *testing.T) {
	root := t.TempDir()
	journal, _, err := NewJournal(root, "run", fixedClock())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	journal.SetHeader(Header{MapPath: "maps/city.txt", Seed: 7, GreenTicks: 6, YellowTicks: 2, RedTicks: 6, SpawnInterval: 2})

	if err := journal.AppendEvent(1, "vehicle_spawned", map[string]int{"vehicle": 0}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	for tick := uint64(1); tick <= 3; tick++ {
		if err := journal.AppendFrame(tick, []byte(fmt.Sprintf(`{"tick":%d}`, tick))); err != nil {
			t.Fatalf("append frame %d: %v", tick, err)
		}
	}
	if stats := journal.Snapshot(); stats.BufferedFrames != 3 || stats.TotalFrames != 3 {
		t.Fatalf("unexpected journal stats: %+v", stats)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	loader, err := Load(journal.Directory())
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	frames := loader.Frames()
	if len(frames) != 3 {
		t.Fatalf("expected three frames, got %d", len(frames))
	}
	for i, frame := range frames {
		if frame.Tick != uint64(i+1) {
			t.Fatalf("frame %d has tick %d", i, frame.Tick)
		}
	}
	events := loader.Events()
	if len(events) != 1 || events[0].Type != "vehicle_spawned" || events[0].Tick != 1 {
		t.Fatalf("unexpected events: %+v", events)
	}

	header, err := ReadHeader(filepath.Join(journal.Directory(), "header.json"))
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header.Seed != 7 || header.MapPath != "maps/city.txt" || header.SchemaVersion != HeaderSchemaVersion {
		t.Fatalf("unexpected header: %+v", header)
	}
}

func TestJournalReplayOrder(t *testing.T) {
	root := t.TempDir()
	journal, _, err := NewJournal(root, "order", fixedClock())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	for tick := uint64(1); tick <= 40; tick++ {
		if err := journal.AppendFrame(tick, []byte("payload")); err != nil {
			t.Fatalf("append frame %d: %v", tick, err)
		}
	}
	//1.- More than one batch forces an intermediate flush before Close.
	if err := journal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	loader, err := Load(journal.Directory())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var seen []uint64
	if err := loader.Replay(func(f Frame) error {
		seen = append(seen, f.Tick)
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(seen) != 40 {
		t.Fatalf("expected 40 frames, got %d", len(seen))
	}
	for i, tick := range seen {
		if tick != uint64(i+1) {
			t.Fatalf("frame order broken at index %d: %d", i, tick)
		}
	}
}

func TestJournalRejectsWritesAfterClose(t *testing.T) {
	journal, _, err := NewJournal(t.TempDir(), "done", fixedClock())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := journal.AppendFrame(1, []byte("late")); err == nil {
		t.Fatal("expected append after close to fail")
	}
	if err := journal.AppendEvent(1, "late", nil); err == nil {
		t.Fatal("expected event after close to fail")
	}
}
