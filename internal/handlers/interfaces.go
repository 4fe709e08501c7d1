package handlers

import (
	"context"
	"time"

	"github.com/quietwire/client/internal/audio"
	"github.com/quietwire/client/internal/selfdeletion"
)

// AudioController captures the playback operations exposed over HTTP.
type AudioController interface {
	RequestPlayback(ctx context.Context, conversationID, trackID string) error
	SetPosition(ctx context.Context, trackID string, positionMs int) error
	Stop(ctx context.Context) error
	Snapshot() audio.State
}

// MessageStore captures the persistence operations required by the message handlers.
type MessageStore interface {
	FindExpiration(ctx context.Context, messageID string) (selfdeletion.ExpirationConfig, error)
	StartDeletion(ctx context.Context, messageID string, at time.Time) (time.Time, error)
}

// AssetPrefetcher schedules background downloads of voice clips.
type AssetPrefetcher interface {
	Enqueue(ctx context.Context, conversationID, trackID string) error
}
