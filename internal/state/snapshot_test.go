package state

import "testing"

func TestStoreLatestBeforePublish(t *testing.T) {
	store := NewStore()
	if _, ok := store.Latest(); ok {
		t.Fatalf("expected no snapshot before first publish")
	}
}

func TestStorePublishAndReset(t *testing.T) {
	store := NewStore()
	store.Publish(Snapshot{
		Tick:     7,
		Vehicles: []VehicleSnapshot{{ID: 1, X: 2, Z: 3, Facing: "east"}},
	})

	got, ok := store.Latest()
	if !ok {
		t.Fatalf("expected a snapshot after publish")
	}
	if got.Tick != 7 || len(got.Vehicles) != 1 || got.Vehicles[0].Facing != "east" {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	store.Reset()
	if _, ok := store.Latest(); ok {
		t.Fatalf("expected reset to clear the snapshot")
	}
}
