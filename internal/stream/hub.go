// Package stream pushes committed world snapshots to WebSocket subscribers.
// The hub fans one encoded snapshot out to every connected viewer after each
// tick; slow clients are disconnected rather than allowed to stall the world.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridflow/engine/internal/logging"
	"gridflow/engine/internal/state"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub tracks connected snapshot subscribers.
type Hub struct {
	store  *state.Store
	logger *logging.Logger

	lock    sync.Mutex
	clients map[*client]bool
}

// NewHub constructs a hub that serves snapshots from the provided store.
func NewHub(store *state.Store, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.L()
	}
	return &Hub{
		store:   store,
		logger:  logger.With(logging.String("component", "stream")),
		clients: make(map[*client]bool),
	}
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// Broadcast encodes a snapshot and queues it to every subscriber. Clients
// with a full send buffer are dropped.
func (h *Hub) Broadcast(snapshot state.Snapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error("snapshot encoding failed", logging.Error(err))
		return
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(h.clients, c)
			h.logger.Warn("slow stream client dropped", logging.String("client", c.id))
		}
	}
}

// ServeWS upgrades the request and registers the client. A freshly connected
// viewer immediately receives the latest committed snapshot.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 256), id: r.RemoteAddr}

	if h.store != nil {
		if latest, ok := h.store.Latest(); ok {
			if payload, err := json.Marshal(latest); err == nil {
				c.send <- payload
			}
		}
	}

	h.lock.Lock()
	h.clients[c] = true
	h.lock.Unlock()
	h.logger.Info("stream client connected", logging.String("client", c.id))

	// reader: the stream is one-way, so inbound frames are drained only to
	// detect the close handshake.
	go func() {
		defer func() {
			h.lock.Lock()
			delete(h.clients, c)
			h.lock.Unlock()
			c.conn.Close()
			h.logger.Info("stream client disconnected", logging.String("client", c.id))
		}()
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// writer
	go func() {
		ticker := time.NewTicker(time.Second * 30)
		defer func() {
			ticker.Stop()
			c.conn.Close()
		}()
		for {
			select {
			case msg, ok := <-c.send:
				if !ok {
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				_ = c.conn.WriteMessage(websocket.TextMessage, msg)
			case <-ticker.C:
				_ = c.conn.WriteMessage(websocket.PingMessage, []byte{})
			}
		}
	}()
}
