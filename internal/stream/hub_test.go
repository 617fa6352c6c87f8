package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gridflow/engine/internal/logging"
	"gridflow/engine/internal/state"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) state.Snapshot {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var snapshot state.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snapshot
}

func TestHubSendsLatestSnapshotOnConnect(t *testing.T) {
	store := state.NewStore()
	store.Publish(state.Snapshot{Tick: 9})
	hub := NewHub(store, logging.NewTestLogger())
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	if snapshot := readSnapshot(t, conn); snapshot.Tick != 9 {
		t.Fatalf("expected the stored snapshot on connect, got tick %d", snapshot.Tick)
	}
}

func TestHubBroadcastsToSubscribers(t *testing.T) {
	store := state.NewStore()
	hub := NewHub(store, logging.NewTestLogger())
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	first := dial(t, server)
	defer first.Close()
	second := dial(t, server)
	defer second.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected two clients, got %d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(state.Snapshot{Tick: 4, Vehicles: []state.VehicleSnapshot{{ID: 1, X: 2, Z: 3}}})

	for _, conn := range []*websocket.Conn{first, second} {
		snapshot := readSnapshot(t, conn)
		if snapshot.Tick != 4 || len(snapshot.Vehicles) != 1 {
			t.Fatalf("unexpected snapshot: %+v", snapshot)
		}
	}
}

func TestHubCountsDisconnects(t *testing.T) {
	hub := NewHub(state.NewStore(), logging.NewTestLogger())
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	conn := dial(t, server)
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected one client, got %d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected client removal after close, got %d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
