package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dverma2339/kubepilot/control_plane/notify"
)

const maxWSConnections = 200

// EventsHub manages WebSocket connections and fans notification events out
// to dashboard listeners. A single events channel prevents N duplicate
// broadcast loops.
type EventsHub struct {
	// clients maps connection to the cluster filter ("" = all clusters)
	clients    map[*websocket.Conn]string
	register   chan registration
	unregister chan *websocket.Conn
	events     chan notify.Event
	mu         sync.RWMutex
}

type registration struct {
	conn      *websocket.Conn
	clusterID string
}

// NewEventsHub creates a new WebSocket hub.
func NewEventsHub() *EventsHub {
	return &EventsHub{
		clients:    make(map[*websocket.Conn]string),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		events:     make(chan notify.Event, 64),
	}
}

// Run starts the hub's main loop.
func (h *EventsHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			// Connection cap to prevent overload
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("WebSocket connection rejected: max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[reg.conn] = reg.clusterID
			h.mu.Unlock()
			log.Printf("WebSocket client registered (filter=%q). Total: %d", reg.clusterID, h.ClientCount())

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			log.Printf("WebSocket client unregistered. Total: %d", h.ClientCount())

		case e := <-h.events:
			h.broadcast(e)
		}
	}
}

// broadcast sends one event to every client whose filter matches.
func (h *EventsHub) broadcast(e notify.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, filter := range h.clients {
		if filter != "" && filter != e.ClusterID {
			continue
		}
		// Write deadline prevents blocking on dead connections
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(e); err != nil {
			log.Printf("WebSocket write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

// shutdown gracefully closes all client connections.
func (h *EventsHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	log.Printf("Shutting down WebSocket hub with %d clients", len(h.clients))

	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]string)
}

// Register adds a new client connection with an optional cluster filter.
func (h *EventsHub) Register(conn *websocket.Conn, clusterID string) {
	h.register <- registration{conn: conn, clusterID: clusterID}
}

// Unregister removes a client connection.
func (h *EventsHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *EventsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify implements notify.Notifier so the hub can sit behind the same
// fan-out as the log sink. Events are dropped, not blocked on, when the
// hub's buffer is full.
func (h *EventsHub) Notify(ctx context.Context, e notify.Event) error {
	select {
	case h.events <- e:
	default:
		log.Printf("EventsHub: buffer full, dropping event %s", e.ID)
	}
	return nil
}

// Close implements notify.Notifier. Connection teardown happens when the
// Run loop observes context cancellation.
func (h *EventsHub) Close() error {
	return nil
}
