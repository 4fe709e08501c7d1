package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quietwire/client/internal/audio"
	"github.com/quietwire/client/internal/repositories"
	"github.com/quietwire/client/internal/selfdeletion"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 64
)

// AudioController is the playback surface exposed to websocket clients.
type AudioController interface {
	RequestPlayback(ctx context.Context, conversationID, trackID string) error
	SetPosition(ctx context.Context, trackID string, positionMs int) error
	Stop(ctx context.Context) error
	Snapshot() audio.State
}

// Prefetcher schedules background downloads of voice clips.
type Prefetcher interface {
	Enqueue(ctx context.Context, conversationID, trackID string) error
}

// ExpirationSource looks up the self-deletion settings of a message.
type ExpirationSource interface {
	FindExpiration(ctx context.Context, messageID string) (selfdeletion.ExpirationConfig, error)
}

type countdownSub struct {
	cancel context.CancelFunc
}

// Client is a single websocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	logger *slog.Logger

	audio       AudioController
	prefetcher  Prefetcher
	expirations ExpirationSource
	clock       selfdeletion.Clock

	mu         sync.Mutex
	closed     bool
	send       chan []byte
	countdowns map[string]*countdownSub
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, h *Handler) *Client {
	clock := h.Clock
	if clock == nil {
		clock = selfdeletion.SystemClock
	}
	return &Client{
		hub:         hub,
		conn:        conn,
		userID:      userID,
		logger:      hub.logger.With(slog.String("userId", userID)),
		audio:       h.Audio,
		prefetcher:  h.Prefetcher,
		expirations: h.Expirations,
		clock:       clock,
		send:        make(chan []byte, sendBufSize),
		countdowns:  make(map[string]*countdownSub),
	}
}

func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump reads client events until the connection or ctx ends. Countdown
// subscriptions live no longer than ReadPump.
func (c *Client) ReadPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.hub.remove(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		var event Event
		if err := wsjson.Read(ctx, c.conn, &event); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.logger.Debug("ws client closed connection")
			} else {
				c.logger.Warn("ws read failed", "error", err)
			}
			return
		}

		c.handleEvent(ctx, &event)
	}
}

// WritePump writes queued events and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.Warn("ws write failed", "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.logger.Warn("ws ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, event *Event) {
	switch event.Type {
	case EventTypeAudioPlay:
		var p AudioPlayPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.MessageID == "" {
			c.sendError("INVALID_PAYLOAD", "audio.play requires messageId")
			return
		}
		c.control(c.audio.RequestPlayback(ctx, p.ConversationID, p.MessageID))

	case EventTypeAudioSeek:
		var p AudioSeekPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.MessageID == "" {
			c.sendError("INVALID_PAYLOAD", "audio.seek requires messageId")
			return
		}
		c.control(c.audio.SetPosition(ctx, p.MessageID, p.PositionMs))

	case EventTypeAudioStop:
		c.control(c.audio.Stop(ctx))

	case EventTypeAudioPrefetch:
		var p AudioPlayPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ConversationID == "" || p.MessageID == "" {
			c.sendError("INVALID_PAYLOAD", "audio.prefetch requires conversationId and messageId")
			return
		}
		if c.prefetcher == nil {
			c.sendError("UNAVAILABLE", "prefetch unavailable")
			return
		}
		if err := c.prefetcher.Enqueue(ctx, p.ConversationID, p.MessageID); err != nil {
			c.logger.Warn("prefetch enqueue failed", "messageId", p.MessageID, "error", err)
			c.sendError("UNAVAILABLE", "prefetch rejected")
		}

	case EventTypeCountdownSubscribe:
		var p CountdownPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.MessageID == "" {
			c.sendError("INVALID_PAYLOAD", "countdown.subscribe requires messageId")
			return
		}
		c.subscribeCountdown(ctx, p.MessageID)

	case EventTypeCountdownUnsubscribe:
		var p CountdownPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.MessageID == "" {
			c.sendError("INVALID_PAYLOAD", "countdown.unsubscribe requires messageId")
			return
		}
		c.unsubscribeCountdown(p.MessageID)

	case EventTypePing:
		data, _ := json.Marshal(Event{Type: EventTypePong, Timestamp: time.Now().UnixMilli()})
		c.trySend(data)

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) control(err error) {
	switch {
	case err == nil:
	case errors.Is(err, audio.ErrAggregatorClosed):
		c.sendError("UNAVAILABLE", "audio playback is shutting down")
	case errors.Is(err, audio.ErrInvalidTrack):
		c.sendError("INVALID_PAYLOAD", err.Error())
	default:
		c.logger.Error("audio control failed", "error", err)
		c.sendError("INTERNAL", "audio control failed")
	}
}

func (c *Client) subscribeCountdown(ctx context.Context, messageID string) {
	c.mu.Lock()
	_, exists := c.countdowns[messageID]
	c.mu.Unlock()
	if exists {
		return
	}

	cfg, err := c.expirations.FindExpiration(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			c.sendError("NOT_FOUND", "message not found")
			return
		}
		c.logger.Error("lookup message expiration", "messageId", messageID, "error", err)
		c.sendError("INTERNAL", "countdown unavailable")
		return
	}

	countdown, ok := selfdeletion.FromExpirationConfig(cfg, c.clock.Now())
	if !ok {
		c.sendError("NOT_EXPIRABLE", "message does not self-delete")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &countdownSub{cancel: cancel}

	c.mu.Lock()
	c.countdowns[messageID] = sub
	c.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			c.mu.Lock()
			if c.countdowns[messageID] == sub {
				delete(c.countdowns, messageID)
			}
			c.mu.Unlock()
		}()

		err := selfdeletion.Run(runCtx, c.clock, countdown, func(s selfdeletion.Snapshot) {
			c.sendEvent(EventTypeCountdownTick, newTickPayload(messageID, s))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("countdown stopped", "messageId", messageID, "error", err)
		}
	}()
}

func (c *Client) unsubscribeCountdown(messageID string) {
	c.mu.Lock()
	sub, ok := c.countdowns[messageID]
	delete(c.countdowns, messageID)
	c.mu.Unlock()

	if ok {
		sub.cancel()
	}
}

func (c *Client) sendEvent(eventType string, payload any) {
	evt, err := NewEvent(eventType, payload)
	if err != nil {
		c.logger.Error("marshal ws event", "type", eventType, "error", err)
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *Client) sendError(code, message string) {
	c.sendEvent(EventTypeError, ErrorPayload{Code: code, Message: message})
}
