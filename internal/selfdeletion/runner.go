package selfdeletion

import (
	"context"
	"time"
)

// Clock abstracts the time source used by Run.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Run drives countdown until it expires or ctx is cancelled. notify receives
// the initial snapshot and one snapshot per elapsed update interval. Run owns
// countdown for its whole duration.
func Run(ctx context.Context, clock Clock, countdown *Countdown, notify func(Snapshot)) error {
	if clock == nil {
		clock = SystemClock
	}
	if notify == nil {
		notify = func(Snapshot) {}
	}

	notify(countdown.Snapshot())

	for !countdown.Expired() {
		interval := countdown.UpdateInterval()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(interval):
		}

		countdown.DecreaseTimeLeft(interval)
		notify(countdown.Snapshot())
	}

	return nil
}
