package assets

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quietwire_asset_cache_hits_total",
		Help: "Audio asset lookups served from the local cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quietwire_asset_cache_misses_total",
		Help: "Audio asset lookups that required a download.",
	})
)

// CachingFetcher wraps another Fetcher with a size and TTL bounded cache of
// materialised files. Evicted entries have their file removed.
type CachingFetcher struct {
	base   Fetcher
	cache  *expirable.LRU[string, string]
	logger *slog.Logger
}

// NewCachingFetcher returns a Fetcher that reuses local files for up to ttl.
func NewCachingFetcher(base Fetcher, size int, ttl time.Duration, logger *slog.Logger) *CachingFetcher {
	if size <= 0 {
		size = 128
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &CachingFetcher{base: base, logger: logger}
	c.cache = expirable.NewLRU[string, string](size, c.evicted, ttl)
	return c
}

// Fetch returns the cached path when its file still exists, otherwise it
// delegates to the underlying fetcher and caches the result.
func (c *CachingFetcher) Fetch(ctx context.Context, conversationID, trackID string) (string, error) {
	if c == nil || c.base == nil {
		return "", ErrAssetUnavailable
	}

	key := conversationID + "/" + trackID
	if path, ok := c.cache.Get(key); ok {
		if _, err := os.Stat(path); err == nil {
			cacheHitsTotal.Inc()
			return path, nil
		}
		c.cache.Remove(key)
	}
	cacheMissesTotal.Inc()

	path, err := c.base.Fetch(ctx, conversationID, trackID)
	if err != nil {
		return "", err
	}

	c.cache.Add(key, path)
	return path, nil
}

// Purge drops every cached entry and its file.
func (c *CachingFetcher) Purge() {
	c.cache.Purge()
}

func (c *CachingFetcher) evicted(key, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("remove evicted audio asset", "key", key, "path", path, "error", err)
	}
}
