package assets

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var prefetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quietwire_asset_prefetch_total",
	Help: "Background audio asset prefetches by outcome.",
}, []string{"outcome"})

// ErrPrefetcherClosed is returned by Enqueue after Shutdown.
var ErrPrefetcherClosed = errors.New("asset prefetcher closed")

// PrefetcherConfig controls the concurrency characteristics of the prefetcher.
type PrefetcherConfig struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// Prefetcher materialises voice clips in the background so playback can start
// from the local cache. Wrap a CachingFetcher; prefetching through a bare
// ObjectFetcher only rewrites the same file.
type Prefetcher struct {
	fetcher Fetcher
	timeout time.Duration
	logger  *slog.Logger

	jobs   chan prefetchJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type prefetchJob struct {
	conversationID string
	trackID        string
}

// NewPrefetcher starts cfg.Workers goroutines draining a queue of cfg.QueueSize.
func NewPrefetcher(fetcher Fetcher, cfg PrefetcherConfig, logger *slog.Logger) *Prefetcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Prefetcher{
		fetcher: fetcher,
		timeout: cfg.Timeout,
		logger:  logger.With(slog.String("component", "prefetch")),
		jobs:    make(chan prefetchJob, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	return p
}

// Enqueue schedules a background fetch of trackID. It blocks while the queue
// is full until ctx is done.
func (p *Prefetcher) Enqueue(ctx context.Context, conversationID, trackID string) error {
	if err := validateSegment(conversationID); err != nil {
		return err
	}
	if err := validateSegment(trackID); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPrefetcherClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPrefetcherClosed
	case p.jobs <- prefetchJob{conversationID: conversationID, trackID: trackID}:
		return nil
	}
}

// Shutdown stops accepting work, abandons queued jobs and waits for in-flight
// fetches to return.
func (p *Prefetcher) Shutdown(ctx context.Context) error {
	p.once.Do(p.cancel)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Prefetcher) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			p.handleJob(job)
		}
	}
}

func (p *Prefetcher) handleJob(job prefetchJob) {
	if p.fetcher == nil {
		p.logger.Error("prefetcher missing fetcher")
		prefetchTotal.WithLabelValues("failed").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	path, err := p.fetcher.Fetch(ctx, job.conversationID, job.trackID)
	if err != nil {
		if errors.Is(err, context.Canceled) && p.ctx.Err() != nil {
			return
		}
		p.logger.Warn("prefetch failed", "conversationId", job.conversationID, "trackId", job.trackID, "error", err)
		prefetchTotal.WithLabelValues("failed").Inc()
		return
	}

	p.logger.Debug("prefetched audio asset", "conversationId", job.conversationID, "trackId", job.trackID, "path", path)
	prefetchTotal.WithLabelValues("ok").Inc()
}
