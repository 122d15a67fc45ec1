package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"live-speech-relay/internal/models"
)

const broadcastBuffer = 100

var upgrader = websocket.Upgrader{
	// Local development tool; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans transcript events out to every connected browser.
type Hub struct {
	logger    zerolog.Logger
	broadcast chan models.PublishEvent

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:    logger,
		broadcast: make(chan models.PublishEvent, broadcastBuffer),
		clients:   make(map[*websocket.Conn]struct{}),
	}
}

// Broadcast queues ev for delivery. Events are dropped when the queue is
// full.
func (h *Hub) Broadcast(ev models.PublishEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn().Str("sessionId", ev.SessionID).Int64("sequence", ev.Sequence).Msg("Viewer queue full, dropping event")
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.broadcast:
			h.send(ev)
		}
	}
}

func (h *Hub) send(ev models.PublishEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug().Err(err).Msg("Dropping viewer")
			_ = conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
	return len(h.clients)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		_ = conn.Close()
	}
}

func (h *Hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.logger.Info().Int("viewers", h.add(conn)).Msg("Viewer connected")

	// The browser never sends; reading only detects the disconnect.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
