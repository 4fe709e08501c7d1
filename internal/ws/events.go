package ws

import (
	"encoding/json"
	"time"

	"github.com/quietwire/client/internal/selfdeletion"
)

// Event types sent by clients.
const (
	EventTypeAudioPlay            = "audio.play"
	EventTypeAudioSeek            = "audio.seek"
	EventTypeAudioStop            = "audio.stop"
	EventTypeAudioPrefetch        = "audio.prefetch"
	EventTypeCountdownSubscribe   = "countdown.subscribe"
	EventTypeCountdownUnsubscribe = "countdown.unsubscribe"
	EventTypePing                 = "ping"
)

// Event types sent by the server.
const (
	EventTypeAudioState    = "audio.state"
	EventTypeCountdownTick = "countdown.tick"
	EventTypePong          = "pong"
	EventTypeError         = "error"
)

// Event is the envelope for every websocket message.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

type AudioPlayPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type AudioSeekPayload struct {
	MessageID  string `json:"messageId"`
	PositionMs int    `json:"positionMs"`
}

type CountdownPayload struct {
	MessageID string `json:"messageId"`
}

type CountdownTickPayload struct {
	MessageID        string  `json:"messageId"`
	Label            string  `json:"label"`
	TimeLeftMs       int64   `json:"timeLeftMs"`
	UpdateIntervalMs int64   `json:"updateIntervalMs"`
	Alpha            float32 `json:"alpha"`
	Expired          bool    `json:"expired"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server event stamped with the current time.
func NewEvent(eventType string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func newTickPayload(messageID string, s selfdeletion.Snapshot) CountdownTickPayload {
	return CountdownTickPayload{
		MessageID:        messageID,
		Label:            s.Label,
		TimeLeftMs:       s.TimeLeft.Milliseconds(),
		UpdateIntervalMs: s.UpdateInterval.Milliseconds(),
		Alpha:            s.Alpha,
		Expired:          s.TimeLeft == 0,
	}
}
