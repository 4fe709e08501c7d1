package selfdeletion

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// ExpirationConfig describes how long a self-deleting message lives and when
// its deletion clock started. A nil DeletionStartedAt means the clock has not
// started yet.
type ExpirationConfig struct {
	ExpireAfter       time.Duration
	DeletionStartedAt *time.Time
}

// Expirable reports whether the configuration enables self-deletion.
func (c ExpirationConfig) Expirable() bool {
	return c.ExpireAfter > 0
}

// Countdown tracks the remaining lifetime of a single self-deleting message.
// It is not safe for concurrent use; a single goroutine owns it.
type Countdown struct {
	expireAfter time.Duration
	timeLeft    time.Duration
}

// FromExpirationConfig derives the countdown for cfg as seen at now. The
// boolean result is false when the message is not expirable.
func FromExpirationConfig(cfg ExpirationConfig, now time.Time) (*Countdown, bool) {
	if !cfg.Expirable() {
		return nil, false
	}

	timeLeft := cfg.ExpireAfter
	if cfg.DeletionStartedAt != nil {
		elapsed := now.Sub(*cfg.DeletionStartedAt)
		if elapsed > 0 {
			timeLeft = cfg.ExpireAfter - elapsed
		}
	}
	if timeLeft < 0 {
		timeLeft = 0
	}

	return &Countdown{expireAfter: cfg.ExpireAfter, timeLeft: timeLeft}, true
}

// ExpireAfter returns the configured total lifetime.
func (c *Countdown) ExpireAfter() time.Duration {
	return c.expireAfter
}

// TimeLeft returns the remaining lifetime.
func (c *Countdown) TimeLeft() time.Duration {
	return c.timeLeft
}

// Expired reports whether the countdown reached zero.
func (c *Countdown) Expired() bool {
	return c.timeLeft == 0
}

// TimeLeftFormatted renders the remaining lifetime as a human label.
func (c *Countdown) TimeLeftFormatted() string {
	left := c.mustTimeLeft()

	days := int64(left / day)
	hours := int64(left / time.Hour)
	minutes := int64(left / time.Minute)
	seconds := int64(left / time.Second)

	switch {
	case days >= 27:
		return unitsLeft(4, "week")
	case days > 7:
		return unitsLeft(days, "day")
	case days >= 6:
		return unitsLeft(1, "week")
	case days >= 1:
		return unitsLeft(days, "day")
	case hours >= 1:
		return unitsLeft(hours, "hour")
	case minutes >= 1:
		return unitsLeft(minutes, "minute")
	default:
		return unitsLeft(seconds, "second")
	}
}

// UpdateInterval returns how long the current label stays valid, so callers
// re-render once per boundary crossing instead of every second.
func (c *Countdown) UpdateInterval() time.Duration {
	left := c.mustTimeLeft()

	switch {
	case left > day:
		if rem := left % day; rem != 0 {
			return rem
		}
		return time.Minute
	case left > time.Hour:
		return remainderOr(left, time.Hour)
	case left > time.Minute:
		return remainderOr(left, time.Minute)
	default:
		return time.Second
	}
}

// DecreaseTimeLeft subtracts interval from the remaining lifetime, stopping at
// zero. Non-positive intervals are ignored.
func (c *Countdown) DecreaseTimeLeft(interval time.Duration) {
	if c.timeLeft == 0 || interval <= 0 {
		return
	}
	c.timeLeft -= interval
	if c.timeLeft < 0 {
		c.timeLeft = 0
	}
}

// AlphaBackgroundColor drives the urgency indicator: 0 while at least three
// quarters of the lifetime remain, 1 afterwards.
func (c *Countdown) AlphaBackgroundColor() float32 {
	ratio := float64(c.timeLeft) / float64(c.expireAfter)
	if ratio >= 0.75 {
		return 0
	}
	return 1
}

// Snapshot captures everything a view needs to render the countdown.
type Snapshot struct {
	Label          string
	TimeLeft       time.Duration
	UpdateInterval time.Duration
	Alpha          float32
}

// Snapshot returns the current render state.
func (c *Countdown) Snapshot() Snapshot {
	return Snapshot{
		Label:          c.TimeLeftFormatted(),
		TimeLeft:       c.timeLeft,
		UpdateInterval: c.UpdateInterval(),
		Alpha:          c.AlphaBackgroundColor(),
	}
}

// mustTimeLeft panics on a negative remainder; construction and
// DecreaseTimeLeft clamp at zero so this cannot happen.
func (c *Countdown) mustTimeLeft() time.Duration {
	if c.timeLeft < 0 {
		panic(fmt.Sprintf("selfdeletion: negative time left %s", c.timeLeft))
	}
	return c.timeLeft
}

func remainderOr(left, unit time.Duration) time.Duration {
	if rem := left % unit; rem != 0 {
		return rem
	}
	return unit
}

func unitsLeft(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s left", unit)
	}
	return fmt.Sprintf("%d %ss left", n, unit)
}
