package audio

import (
	"context"
	"errors"
)

// PlayingState is the playback status of a single track.
type PlayingState string

const (
	StateFetching  PlayingState = "fetching"
	StatePlaying   PlayingState = "playing"
	StatePaused    PlayingState = "paused"
	StateStopped   PlayingState = "stopped"
	StateCompleted PlayingState = "completed"
	StateFailed    PlayingState = "failed"
)

// TotalTime is the track length, which is unknown until the decoder has
// prepared the track at least once.
type TotalTime struct {
	Known bool `json:"known"`
	Ms    int  `json:"ms,omitempty"`
}

// UnknownTotalTime returns a TotalTime without a value.
func UnknownTotalTime() TotalTime { return TotalTime{} }

// KnownTotalTime returns a TotalTime of ms milliseconds.
func KnownTotalTime(ms int) TotalTime { return TotalTime{Known: true, Ms: ms} }

// PlaybackRecord is the last known playback state of one track.
type PlaybackRecord struct {
	State             PlayingState `json:"state"`
	CurrentPositionMs int          `json:"currentPositionMs"`
	TotalTime         TotalTime    `json:"totalTime"`
}

// State maps track identifiers to their playback records. Published values
// are never mutated; treat them as read-only.
type State map[string]PlaybackRecord

var (
	// ErrAggregatorClosed is returned for requests made after Close.
	ErrAggregatorClosed = errors.New("audio aggregator closed")
	// ErrInvalidTrack indicates an empty track identifier.
	ErrInvalidTrack = errors.New("track id must be provided")
)

// AssetFetcher resolves a track to a local, decodable file.
type AssetFetcher interface {
	Fetch(ctx context.Context, conversationID, trackID string) (string, error)
}

// Player is the single decoder resource shared by every track.
type Player interface {
	SetSource(path string) error
	Prepare() error
	Start() error
	Pause() error
	SeekTo(ms int) error
	Reset() error
	Release() error
	CurrentPositionMs() int
	IsPlaying() bool
	DurationMs() int
	SetOnCompletion(fn func())
}
