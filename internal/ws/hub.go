package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quietwire/client/internal/audio"
)

var connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "quietwire_ws_clients",
	Help: "Currently connected websocket clients.",
})

// Hub tracks connected clients and fans out server events to all of them.
type Hub struct {
	logger  *slog.Logger
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
}

// NewHub returns a hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With(slog.String("component", "ws")),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			connectedClients.Inc()
			h.logger.Info("ws client connected", "userId", client.userID, "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info("ws client disconnected", "userId", client.userID, "clients", len(h.clients))
			}

		case data := <-h.broadcast:
			for client := range h.clients {
				if !client.trySend(data) {
					h.drop(client)
					h.logger.Warn("dropping slow ws client", "userId", client.userID)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	client.close()
	connectedClients.Dec()
}

// Broadcast sends evt to every connected client.
func (h *Hub) Broadcast(evt *Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("marshal ws event", "type", evt.Type, "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ForwardAudioState broadcasts every state published on updates as an
// audio.state event until updates closes or ctx is cancelled.
func (h *Hub) ForwardAudioState(ctx context.Context, updates <-chan audio.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			evt, err := NewEvent(EventTypeAudioState, state)
			if err != nil {
				h.logger.Error("marshal audio state", "error", err)
				continue
			}
			h.Broadcast(evt)
		}
	}
}
