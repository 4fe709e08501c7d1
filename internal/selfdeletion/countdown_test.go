package selfdeletion

import (
	"testing"
	"time"
)

var now = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func newCountdown(t *testing.T, expireAfter time.Duration) *Countdown {
	t.Helper()
	c, ok := FromExpirationConfig(ExpirationConfig{ExpireAfter: expireAfter}, now)
	if !ok {
		t.Fatalf("expected expirable countdown for %v", expireAfter)
	}
	return c
}

func TestFromExpirationConfigNotExpirable(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Minute} {
		if c, ok := FromExpirationConfig(ExpirationConfig{ExpireAfter: d}, now); ok || c != nil {
			t.Fatalf("expected not expirable for %v got %+v", d, c)
		}
	}
}

func TestFromExpirationConfigStarted(t *testing.T) {
	tests := []struct {
		name      string
		startedAt time.Time
		want      time.Duration
	}{
		{name: "partially elapsed", startedAt: now.Add(-10 * time.Minute), want: 50 * time.Minute},
		{name: "fully elapsed clamps to zero", startedAt: now.Add(-3 * time.Hour), want: 0},
		{name: "start in the future keeps full lifetime", startedAt: now.Add(time.Minute), want: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := tt.startedAt
			c, ok := FromExpirationConfig(ExpirationConfig{ExpireAfter: time.Hour, DeletionStartedAt: &started}, now)
			if !ok {
				t.Fatal("expected expirable countdown")
			}
			if c.TimeLeft() != tt.want {
				t.Fatalf("unexpected time left: got %v want %v", c.TimeLeft(), tt.want)
			}
		})
	}
}

func TestTimeLeftFormatted(t *testing.T) {
	tests := []struct {
		left time.Duration
		want string
	}{
		{50 * day, "4 weeks left"},
		{28 * day, "4 weeks left"},
		{27 * day, "4 weeks left"},
		{21 * day, "21 days left"},
		{14 * day, "14 days left"},
		{8 * day, "8 days left"},
		{7 * day, "1 week left"},
		{6 * day, "1 week left"},
		{5 * day, "5 days left"},
		{day, "1 day left"},
		{24 * time.Hour, "1 day left"},
		{23 * time.Hour, "23 hours left"},
		{60 * time.Minute, "1 hour left"},
		{59 * time.Minute, "59 minutes left"},
		{time.Minute, "1 minute left"},
		{60 * time.Second, "1 minute left"},
		{59 * time.Second, "59 seconds left"},
		{time.Second, "1 second left"},
	}

	for _, tt := range tests {
		if got := newCountdown(t, tt.left).TimeLeftFormatted(); got != tt.want {
			t.Errorf("label for %v: got %q want %q", tt.left, got, tt.want)
		}
	}
}

func TestTimeLeftFormattedNotStartedMatchesExpireAfter(t *testing.T) {
	for _, d := range []time.Duration{10 * time.Second, 5 * time.Minute, time.Hour, day, 7 * day, 28 * day} {
		fresh := newCountdown(t, d)
		started := now
		running, _ := FromExpirationConfig(ExpirationConfig{ExpireAfter: d, DeletionStartedAt: &started}, now)
		if fresh.TimeLeftFormatted() != running.TimeLeftFormatted() {
			t.Errorf("label mismatch for %v: %q vs %q", d, fresh.TimeLeftFormatted(), running.TimeLeftFormatted())
		}
	}
}

func TestUpdateInterval(t *testing.T) {
	tests := []struct {
		left time.Duration
		want time.Duration
	}{
		{time.Second, time.Second},
		{30 * time.Second, time.Second},
		{time.Minute, time.Second},
		{time.Minute + time.Second, time.Second},
		{2 * time.Minute, time.Minute},
		{30 * time.Minute, time.Minute},
		{time.Hour, time.Minute},
		{time.Minute + 10900*time.Millisecond, 10900 * time.Millisecond},
		{23 * time.Hour, time.Hour},
		{24 * time.Hour, time.Hour},
		{90 * time.Minute, 30 * time.Minute},
		{36 * time.Hour, 12 * time.Hour},
		{2 * day, time.Minute},
	}

	for _, tt := range tests {
		if got := newCountdown(t, tt.left).UpdateInterval(); got != tt.want {
			t.Errorf("interval for %v: got %v want %v", tt.left, got, tt.want)
		}
	}
}

func TestDecreaseAcrossMinuteBoundary(t *testing.T) {
	c := newCountdown(t, time.Minute+10900*time.Millisecond)

	interval := c.UpdateInterval()
	if interval != 10900*time.Millisecond {
		t.Fatalf("unexpected interval: %v", interval)
	}

	c.DecreaseTimeLeft(interval)
	if got := c.TimeLeftFormatted(); got != "1 minute left" {
		t.Fatalf("expected exact minute to read 1 minute left got %q", got)
	}

	c.DecreaseTimeLeft(c.UpdateInterval())
	if got := c.TimeLeftFormatted(); got != "59 seconds left" {
		t.Fatalf("expected 59 seconds left got %q", got)
	}
}

func TestDecreaseAcrossDayBoundary(t *testing.T) {
	c := newCountdown(t, day+12*time.Hour)

	c.DecreaseTimeLeft(c.UpdateInterval())
	if got := c.TimeLeftFormatted(); got != "1 day left" {
		t.Fatalf("after first tick got %q", got)
	}
	if c.TimeLeft() != day {
		t.Fatalf("expected a whole day left got %v", c.TimeLeft())
	}

	c.DecreaseTimeLeft(c.UpdateInterval())
	if got := c.TimeLeftFormatted(); got != "23 hours left" {
		t.Fatalf("after second tick got %q", got)
	}
}

func TestDecreaseFromWholeDays(t *testing.T) {
	c := newCountdown(t, 2*day)
	if got := c.TimeLeftFormatted(); got != "2 days left" {
		t.Fatalf("initial label got %q", got)
	}

	c.DecreaseTimeLeft(c.UpdateInterval())
	if got := c.TimeLeftFormatted(); got != "1 day left" {
		t.Fatalf("expected the label to drop after one minute got %q", got)
	}
	if got := c.UpdateInterval(); got != 23*time.Hour+59*time.Minute {
		t.Fatalf("expected interval to the next day boundary got %v", got)
	}
}

func TestDecreaseTimeLeftClampsAtZero(t *testing.T) {
	c := newCountdown(t, 3*time.Second)

	c.DecreaseTimeLeft(10 * time.Second)
	if c.TimeLeft() != 0 || !c.Expired() {
		t.Fatalf("expected zero time left got %v", c.TimeLeft())
	}

	c.DecreaseTimeLeft(time.Second)
	if c.TimeLeft() != 0 {
		t.Fatalf("expected decrease at zero to be a no-op got %v", c.TimeLeft())
	}

	c = newCountdown(t, 3*time.Second)
	c.DecreaseTimeLeft(-time.Second)
	if c.TimeLeft() != 3*time.Second {
		t.Fatalf("expected negative interval to be ignored got %v", c.TimeLeft())
	}
}

func TestAlphaBackgroundColor(t *testing.T) {
	c := newCountdown(t, 100*time.Second)
	if c.AlphaBackgroundColor() != 0 {
		t.Fatalf("expected alpha 0 for a fresh countdown")
	}

	c.DecreaseTimeLeft(25 * time.Second)
	if c.AlphaBackgroundColor() != 0 {
		t.Fatalf("expected alpha 0 at exactly three quarters left")
	}

	c.DecreaseTimeLeft(time.Second)
	if c.AlphaBackgroundColor() != 1 {
		t.Fatalf("expected alpha 1 below three quarters left")
	}
}

func TestNegativeTimeLeftPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for negative time left")
		}
	}()

	c := &Countdown{expireAfter: time.Minute, timeLeft: -time.Second}
	c.UpdateInterval()
}
