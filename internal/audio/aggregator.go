package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrFetcherUnavailable indicates the aggregator was built without a fetcher.
var ErrFetcherUnavailable = errors.New("audio asset fetcher unavailable")

// Config controls polling and queueing characteristics of the aggregator.
type Config struct {
	PollInterval time.Duration
	QueueSize    int
}

type playRequest struct {
	conversationID string
	trackID        string
}

type seekRequest struct {
	trackID    string
	positionMs int
}

type stopRequest struct{}

type fetchResult struct {
	session string
	trackID string
	path    string
	err     error
}

type completion struct {
	session string
}

// Aggregator owns the decoder and folds playback requests, position polling
// and seeks into a single State stream. Every mutation happens on the run
// goroutine; callers only enqueue events.
type Aggregator struct {
	fetcher      AssetFetcher
	player       Player
	logger       *slog.Logger
	pollInterval time.Duration

	events      chan any
	subscribe   chan chan State
	unsubscribe chan chan State
	latest      atomic.Pointer[State]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	// Owned by the run goroutine.
	records     State
	active      string
	session     string
	subscribers map[chan State]struct{}
}

// NewAggregator starts an aggregator that exclusively owns player until Close.
func NewAggregator(fetcher AssetFetcher, player Player, cfg Config, logger *slog.Logger) *Aggregator {
	if player == nil {
		panic("audio: player must not be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Aggregator{
		fetcher:      fetcher,
		player:       player,
		logger:       logger.With(slog.String("component", "audio")),
		pollInterval: cfg.PollInterval,
		events:       make(chan any, cfg.QueueSize),
		subscribe:    make(chan chan State),
		unsubscribe:  make(chan chan State),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		records:      State{},
		subscribers:  make(map[chan State]struct{}),
	}
	empty := State{}
	a.latest.Store(&empty)

	go a.run()

	return a
}

// RequestPlayback toggles trackID if it is active, otherwise stops the active
// track and fetches and plays trackID.
func (a *Aggregator) RequestPlayback(ctx context.Context, conversationID, trackID string) error {
	if trackID == "" {
		return ErrInvalidTrack
	}
	return a.enqueue(ctx, playRequest{conversationID: conversationID, trackID: trackID})
}

// SetPosition records a new position for trackID and seeks the decoder when
// trackID is the active track.
func (a *Aggregator) SetPosition(ctx context.Context, trackID string, positionMs int) error {
	if trackID == "" {
		return ErrInvalidTrack
	}
	return a.enqueue(ctx, seekRequest{trackID: trackID, positionMs: positionMs})
}

// Stop stops the active track, if any.
func (a *Aggregator) Stop(ctx context.Context) error {
	return a.enqueue(ctx, stopRequest{})
}

// Snapshot returns the most recently published state.
func (a *Aggregator) Snapshot() State {
	return *a.latest.Load()
}

// Subscribe returns a channel that first receives the latest state and then
// every subsequent one. Slow readers only see the newest value. The returned
// function cancels the subscription.
func (a *Aggregator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	select {
	case a.subscribe <- ch:
	case <-a.done:
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			select {
			case a.unsubscribe <- ch:
			case <-a.done:
			}
		})
	}
}

// Close stops the aggregator, releases the decoder and closes subscriptions.
func (a *Aggregator) Close(ctx context.Context) error {
	a.once.Do(a.cancel)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return nil
	}
}

func (a *Aggregator) enqueue(ctx context.Context, evt any) error {
	select {
	case <-a.ctx.Done():
		return ErrAggregatorClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return ErrAggregatorClosed
	case a.events <- evt:
		return nil
	}
}

func (a *Aggregator) run() {
	defer close(a.done)

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-a.ctx.Done():
			a.teardown()
			return
		case evt := <-a.events:
			a.handle(evt)
		case ch := <-a.subscribe:
			a.subscribers[ch] = struct{}{}
			subscribersGauge.Inc()
			offer(ch, a.records)
		case ch := <-a.unsubscribe:
			if _, ok := a.subscribers[ch]; ok {
				delete(a.subscribers, ch)
				close(ch)
				subscribersGauge.Dec()
			}
		case <-tick:
			a.poll()
		}

		polling := a.active != "" && a.records[a.active].State == StatePlaying
		switch {
		case polling && ticker == nil:
			ticker = time.NewTicker(a.pollInterval)
			tick = ticker.C
		case !polling && ticker != nil:
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
}

func (a *Aggregator) handle(evt any) {
	switch e := evt.(type) {
	case playRequest:
		a.handlePlay(e)
	case seekRequest:
		a.handleSeek(e)
	case stopRequest:
		if a.active != "" {
			a.stopActive()
		}
	case fetchResult:
		a.handleFetchResult(e)
	case completion:
		a.handleCompletion(e)
	default:
		a.logger.Error("unknown audio event", "type", fmt.Sprintf("%T", evt))
	}
}

func (a *Aggregator) handlePlay(req playRequest) {
	if req.trackID == a.active {
		a.toggle()
		return
	}

	if a.active != "" {
		a.stopActive()
	}

	rec := a.record(req.trackID)
	start := rec.CurrentPositionMs
	if rec.State == StateCompleted {
		start = 0
	}

	a.active = req.trackID
	a.session = uuid.NewString()
	a.update(req.trackID, PlaybackRecord{State: StateFetching, CurrentPositionMs: start, TotalTime: rec.TotalTime})

	a.logger.Info("fetching audio asset", "trackId", req.trackID, "conversationId", req.conversationID, "session", a.session)
	go a.fetch(a.session, req.conversationID, req.trackID)
}

func (a *Aggregator) fetch(session, conversationID, trackID string) {
	var (
		path string
		err  = ErrFetcherUnavailable
	)
	if a.fetcher != nil {
		path, err = a.fetcher.Fetch(a.ctx, conversationID, trackID)
	}
	_ = a.enqueue(context.Background(), fetchResult{session: session, trackID: trackID, path: path, err: err})
}

func (a *Aggregator) toggle() {
	trackID := a.active
	rec := a.record(trackID)

	switch {
	case rec.State == StateFetching:
		a.logger.Debug("ignoring toggle while fetching", "trackId", trackID)
	case a.player.IsPlaying():
		if err := a.player.Pause(); err != nil {
			a.logger.Warn("pause playback", "trackId", trackID, "error", err)
			return
		}
		rec.State = StatePaused
		rec.CurrentPositionMs = a.player.CurrentPositionMs()
		a.update(trackID, rec)
	default:
		// A completion queued before this resume belongs to the previous run.
		a.session = uuid.NewString()
		a.armCompletion()
		if err := a.player.Start(); err != nil {
			a.logger.Warn("resume playback", "trackId", trackID, "error", err)
			return
		}
		rec.State = StatePlaying
		a.update(trackID, rec)
	}
}

// armCompletion routes the decoder's end-of-stream back into the event loop,
// tagged with the current session.
func (a *Aggregator) armCompletion() {
	session := a.session
	a.player.SetOnCompletion(func() {
		go func() {
			_ = a.enqueue(context.Background(), completion{session: session})
		}()
	})
}

// stopActive releases the decoder from the active track. Clearing the session
// makes any in-flight fetch for it stale.
func (a *Aggregator) stopActive() {
	trackID := a.active
	rec := a.record(trackID)
	if rec.State == StatePlaying || rec.State == StatePaused {
		rec.CurrentPositionMs = a.player.CurrentPositionMs()
	}
	if err := a.player.Reset(); err != nil {
		a.logger.Warn("reset decoder", "trackId", trackID, "error", err)
	}

	a.active, a.session = "", ""
	rec.State = StateStopped
	a.update(trackID, rec)
}

func (a *Aggregator) handleFetchResult(res fetchResult) {
	if res.session == "" || res.session != a.session || res.trackID != a.active {
		staleResultsTotal.Inc()
		a.logger.Debug("dropping superseded fetch result", "trackId", res.trackID, "session", res.session)
		return
	}

	rec := a.record(res.trackID)
	if res.err != nil {
		fetchFailuresTotal.Inc()
		a.logger.Warn("audio asset fetch failed", "trackId", res.trackID, "error", res.err)
		a.fail(res.trackID, rec)
		return
	}

	start, duration, err := a.startDecoder(res.path, rec.CurrentPositionMs)
	if err != nil {
		a.logger.Error("start decoder", "trackId", res.trackID, "path", res.path, "error", err)
		if resetErr := a.player.Reset(); resetErr != nil {
			a.logger.Warn("reset decoder", "trackId", res.trackID, "error", resetErr)
		}
		a.fail(res.trackID, rec)
		return
	}

	rec.State = StatePlaying
	rec.CurrentPositionMs = start
	if duration > 0 {
		rec.TotalTime = KnownTotalTime(duration)
	}
	a.update(res.trackID, rec)
	a.logger.Info("playback started", "trackId", res.trackID, "positionMs", start, "durationMs", duration)
}

func (a *Aggregator) fail(trackID string, rec PlaybackRecord) {
	a.active, a.session = "", ""
	rec.State = StateFailed
	a.update(trackID, rec)
}

func (a *Aggregator) startDecoder(path string, start int) (int, int, error) {
	if err := a.player.Reset(); err != nil {
		return 0, 0, fmt.Errorf("reset: %w", err)
	}
	if err := a.player.SetSource(path); err != nil {
		return 0, 0, fmt.Errorf("set source: %w", err)
	}
	if err := a.player.Prepare(); err != nil {
		return 0, 0, fmt.Errorf("prepare: %w", err)
	}

	duration := a.player.DurationMs()
	if start < 0 || (duration > 0 && start >= duration) {
		start = 0
	}
	if start > 0 {
		if err := a.player.SeekTo(start); err != nil {
			return 0, 0, fmt.Errorf("seek to %d: %w", start, err)
		}
	}

	a.armCompletion()

	if err := a.player.Start(); err != nil {
		return 0, 0, fmt.Errorf("start: %w", err)
	}
	return start, duration, nil
}

// handleCompletion marks the track completed and rewinds it, so the next
// request plays it from the beginning.
func (a *Aggregator) handleCompletion(c completion) {
	if c.session == "" || c.session != a.session {
		staleResultsTotal.Inc()
		return
	}

	trackID := a.active
	rec := a.record(trackID)
	if err := a.player.Reset(); err != nil {
		a.logger.Warn("reset decoder", "trackId", trackID, "error", err)
	}

	a.active, a.session = "", ""
	rec.State = StateCompleted
	rec.CurrentPositionMs = 0
	a.update(trackID, rec)
	a.logger.Info("playback completed", "trackId", trackID)
}

func (a *Aggregator) handleSeek(req seekRequest) {
	rec := a.record(req.trackID)

	pos := req.positionMs
	if pos < 0 {
		pos = 0
	}
	if rec.TotalTime.Known && pos > rec.TotalTime.Ms {
		pos = rec.TotalTime.Ms
	}

	if req.trackID == a.active && (rec.State == StatePlaying || rec.State == StatePaused) {
		if err := a.player.SeekTo(pos); err != nil {
			a.logger.Warn("seek decoder", "trackId", req.trackID, "positionMs", pos, "error", err)
		}
	}

	rec.CurrentPositionMs = pos
	a.update(req.trackID, rec)
}

func (a *Aggregator) poll() {
	if a.active == "" || !a.player.IsPlaying() {
		return
	}

	rec := a.record(a.active)
	pos := a.player.CurrentPositionMs()
	if pos == rec.CurrentPositionMs {
		return
	}
	rec.CurrentPositionMs = pos
	a.update(a.active, rec)
}

func (a *Aggregator) teardown() {
	if a.active != "" {
		a.stopActive()
	}
	if err := a.player.Release(); err != nil {
		a.logger.Warn("release decoder", "error", err)
	}
	for ch := range a.subscribers {
		delete(a.subscribers, ch)
		close(ch)
		subscribersGauge.Dec()
	}
}

func (a *Aggregator) record(trackID string) PlaybackRecord {
	if rec, ok := a.records[trackID]; ok {
		return rec
	}
	return PlaybackRecord{State: StateStopped, TotalTime: UnknownTotalTime()}
}

// update replaces one record in a fresh copy of the map and publishes it.
func (a *Aggregator) update(trackID string, rec PlaybackRecord) {
	prev, existed := a.records[trackID]

	next := make(State, len(a.records)+1)
	maps.Copy(next, a.records)
	next[trackID] = rec
	a.records = next

	if !existed || prev.State != rec.State {
		transitionsTotal.WithLabelValues(string(rec.State)).Inc()
	}

	snapshot := a.records
	a.latest.Store(&snapshot)
	for ch := range a.subscribers {
		offer(ch, snapshot)
	}
}

// offer delivers s, replacing an unread older value. Only the run goroutine
// sends on subscriber channels.
func offer(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
