package ws

import (
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/quietwire/client/internal/logging"
	"github.com/quietwire/client/internal/middleware"
	"github.com/quietwire/client/internal/selfdeletion"
)

// Handler upgrades authenticated requests to websocket connections. It must be
// mounted behind middleware.Authenticate.
type Handler struct {
	Hub            *Hub
	Audio          AudioController
	Prefetcher     Prefetcher
	Expirations    ExpirationSource
	Clock          selfdeletion.Clock
	OriginPatterns []string
}

// ServeHTTP implements GET /api/v1/ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Hub == nil || h.Audio == nil || h.Expirations == nil {
		logger.Error("websocket dependencies unavailable")
		http.Error(w, "websocket unavailable", http.StatusServiceUnavailable)
		return
	}

	userID := middleware.UserIDFromContext(ctx)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		logger.Warn("websocket accept failed", "error", err)
		return
	}

	client := newClient(h.Hub, conn, userID, h)

	if !h.Hub.add(client) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	// Registered first so no broadcast falls between the snapshot and the hub.
	initial, err := NewEvent(EventTypeAudioState, h.Audio.Snapshot())
	if err == nil {
		if data, err := json.Marshal(initial); err == nil {
			client.trySend(data)
		}
	}

	go client.WritePump()
	client.ReadPump(ctx)
}
