package ws

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"impostor-draw-server/auth"
	"impostor-draw-server/config"
	"impostor-draw-server/game"
	"impostor-draw-server/roomsync"
)

// Hub maintains the set of active clients.
type Hub struct {
	Clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	Config     *config.Config
	Syncer     *roomsync.Syncer
	Tokens     *auth.TokenManager
	// Rand draws room codes. Nil uses the global source.
	Rand game.Rand

	upgrader websocket.Upgrader
	done     chan struct{}
}

// NewHub creates a new Hub.
func NewHub(cfg *config.Config, syncer *roomsync.Syncer, tokens *auth.TokenManager) *Hub {
	h := &Hub{
		Clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Config:     cfg,
		Syncer:     syncer,
		Tokens:     tokens,
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.Config.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.Config.AllowedOrigins, origin)
}

// Run starts the hub's main loop. Should be run as a goroutine.
// When ctx is cancelled (e.g. on server shutdown), every open session is
// closed and Run returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, closing sessions", "tag", "ws", "clients", len(h.Clients))
			for client := range h.Clients {
				client.shutdown()
			}
			return
		case client := <-h.Register:
			h.Clients[client] = true
			slog.Info("client connected", "tag", "ws", "clients", len(h.Clients))

		case client := <-h.Unregister:
			if _, ok := h.Clients[client]; ok {
				delete(h.Clients, client)
				// The session may still be flushing writes; don't hold up the hub.
				go func() {
					client.shutdown()
					close(client.Send)
				}()
				slog.Info("client disconnected", "tag", "ws", "clients", len(h.Clients))
			}
		}
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// ServeWS handles WebSocket upgrade requests and creates a new Client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "tag", "ws", "err", err)
		return
	}

	client := newClient(h, conn)
	select {
	case h.Register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
