package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/snapguard/internal/ir"
)

const (
	// clientSendBuffer is the per-client outbound queue. A client that falls
	// this far behind is dropped.
	clientSendBuffer = 64

	writeWait = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans record change events out to dashboard websocket clients.
//
// Only run touches the client set. Register, unregister and broadcast all
// travel over channels, so no lock is needed.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	upgrader   *websocket.Upgrader
	running    atomic.Bool
}

// NewHub creates a hub. upgrader decides which origins may connect.
func NewHub(upgrader *websocket.Upgrader) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		upgrader:   upgrader,
	}
}

// Start runs the hub in the background until ctx is cancelled. Only the
// first call has an effect.
func (h *Hub) Start(ctx context.Context) {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	go h.run(ctx)
}

// run serves registrations and broadcasts until ctx is cancelled. On exit
// every client's send queue is closed, which closes its connection.
func (h *Hub) run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					slog.Warn("dropping slow dashboard client")
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// Broadcast queues ev for every connected client.
func (h *Hub) Broadcast(ev ir.RecordEvent) {
	encoded, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal record event", "error", err)
		return
	}
	select {
	case h.broadcast <- encoded:
	default:
		slog.Warn("dropping record event, broadcast channel full", "image_id", ev.ID)
	}
}

// Relay forwards store notifications to the hub until events is closed or
// ctx is cancelled.
func (h *Hub) Relay(ctx context.Context, events <-chan ir.RecordEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

// ServeWS upgrades the connection and registers a client. Until Start is
// called it answers 503.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.running.Load() {
		http.Error(w, "dashboard feed is not running", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("dashboard websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// writer
	go func() {
		defer conn.Close()
		for msg := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(writeWait))
	}()

	// reader (just consume pings/close)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
