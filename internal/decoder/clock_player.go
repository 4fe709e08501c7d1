package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

var (
	// ErrInvalidState is returned when an operation is not valid for the
	// player's current lifecycle state.
	ErrInvalidState = errors.New("decoder: invalid state for operation")
	// ErrUnsupportedSource indicates the source is not a readable WAV file.
	ErrUnsupportedSource = errors.New("decoder: unsupported source")
)

type state int

const (
	stateIdle state = iota
	stateInitialized
	statePrepared
	stateStarted
	statePaused
	stateCompleted
	stateReleased
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateInitialized:
		return "initialized"
	case statePrepared:
		return "prepared"
	case stateStarted:
		return "started"
	case statePaused:
		return "paused"
	case stateCompleted:
		return "completed"
	case stateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// ClockPlayer is a decoder that reads the duration of a WAV source and
// advances a playhead against the wall clock. It follows the usual media
// player lifecycle: SetSource, Prepare, Start/Pause/SeekTo, Reset, Release.
type ClockPlayer struct {
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time

	state      state
	source     string
	duration   time.Duration
	offset     time.Duration
	startedAt  time.Time
	timer      *time.Timer
	generation uint64

	onCompletion func()
}

// NewClockPlayer returns an idle player.
func NewClockPlayer(logger *slog.Logger) *ClockPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClockPlayer{logger: logger, now: time.Now}
}

// SetSource assigns the file to play. The player must be idle.
func (p *ClockPlayer) SetSource(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateIdle {
		return p.invalid("set source")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("decoder: stat source: %w", err)
	}

	p.source = path
	p.state = stateInitialized
	return nil
}

// Prepare decodes the WAV header to learn the track duration.
func (p *ClockPlayer) Prepare() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateInitialized {
		return p.invalid("prepare")
	}

	duration, err := wavDuration(p.source)
	if err != nil {
		return err
	}

	p.duration = duration
	p.offset = 0
	p.state = statePrepared
	p.logger.Debug("decoder prepared", "source", p.source, "durationMs", duration.Milliseconds())
	return nil
}

func wavDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("decoder: open source: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedSource, path)
	}
	duration, err := d.Duration()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}
	return duration, nil
}

// Start begins or resumes playback. Starting a completed track replays it
// from the beginning.
func (p *ClockPlayer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateStarted:
		return nil
	case stateCompleted:
		p.offset = 0
	case statePrepared, statePaused:
	default:
		return p.invalid("start")
	}

	p.startedAt = p.now()
	p.state = stateStarted
	p.schedule()
	return nil
}

// Pause freezes the playhead.
func (p *ClockPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case statePaused:
		return nil
	case stateStarted:
	default:
		return p.invalid("pause")
	}

	p.offset = p.position()
	p.cancelTimer()
	p.state = statePaused
	return nil
}

// SeekTo moves the playhead, clamped to the track bounds.
func (p *ClockPlayer) SeekTo(ms int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case statePrepared, stateStarted, statePaused, stateCompleted:
	default:
		return p.invalid("seek")
	}

	target := time.Duration(ms) * time.Millisecond
	if target < 0 {
		target = 0
	}
	if target > p.duration {
		target = p.duration
	}

	p.offset = target
	if p.state == stateCompleted {
		p.state = statePaused
	}
	if p.state == stateStarted {
		p.startedAt = p.now()
		p.schedule()
	}
	return nil
}

// Reset returns the player to idle, dropping the source and any pending
// completion.
func (p *ClockPlayer) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateReleased {
		return p.invalid("reset")
	}

	p.cancelTimer()
	p.state = stateIdle
	p.source = ""
	p.duration = 0
	p.offset = 0
	p.onCompletion = nil
	return nil
}

// Release frees the player. It cannot be used afterwards.
func (p *ClockPlayer) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelTimer()
	p.state = stateReleased
	p.onCompletion = nil
	return nil
}

// CurrentPositionMs reports the playhead in milliseconds.
func (p *ClockPlayer) CurrentPositionMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.position().Milliseconds())
}

// IsPlaying reports whether the playhead is advancing.
func (p *ClockPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateStarted
}

// DurationMs reports the prepared track length, or 0 when nothing is prepared.
func (p *ClockPlayer) DurationMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.duration.Milliseconds())
}

// SetOnCompletion registers fn to run once playback reaches the end. It is
// called without the player lock held.
func (p *ClockPlayer) SetOnCompletion(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCompletion = fn
}

func (p *ClockPlayer) position() time.Duration {
	if p.state != stateStarted {
		return p.offset
	}
	pos := p.offset + p.now().Sub(p.startedAt)
	if pos > p.duration {
		pos = p.duration
	}
	return pos
}

func (p *ClockPlayer) schedule() {
	p.cancelTimer()
	gen := p.generation
	p.timer = time.AfterFunc(p.duration-p.offset, func() { p.complete(gen) })
}

func (p *ClockPlayer) cancelTimer() {
	p.generation++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *ClockPlayer) complete(gen uint64) {
	p.mu.Lock()
	if gen != p.generation || p.state != stateStarted {
		p.mu.Unlock()
		return
	}
	p.state = stateCompleted
	p.offset = p.duration
	p.timer = nil
	fn := p.onCompletion
	source := p.source
	p.mu.Unlock()

	p.logger.Debug("decoder completed", "source", source)
	if fn != nil {
		fn()
	}
}

func (p *ClockPlayer) invalid(op string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, p.state)
}
