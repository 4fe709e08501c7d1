package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quietwire/client/internal/assets"
	"github.com/quietwire/client/internal/audio"
	"github.com/quietwire/client/internal/auth"
	"github.com/quietwire/client/internal/config"
	"github.com/quietwire/client/internal/db"
	"github.com/quietwire/client/internal/decoder"
	"github.com/quietwire/client/internal/handlers"
	"github.com/quietwire/client/internal/middleware"
	"github.com/quietwire/client/internal/repositories"
	"github.com/quietwire/client/internal/storage"
	"github.com/quietwire/client/internal/ws"
)

// buildDependencies wires together concrete implementations used by the HTTP
// handlers and starts the playback aggregator and websocket hub. The returned
// cleanup stops both and releases the decoder.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	objects, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
	if err != nil {
		return handlers.Dependencies{}, nil, fmt.Errorf("configure object storage: %w", err)
	}

	messages := repositories.NewPostgresMessageRepository(pool)
	assetRepo := repositories.NewPostgresAssetRepository(pool)

	fetcher := assets.NewCachingFetcher(&assets.ObjectFetcher{
		Locator: assetRepo,
		Objects: objects,
		Dir:     cfg.AssetCacheDir,
		Logger:  logger,
	}, cfg.AssetCacheSize, cfg.AssetCacheTTL, logger)

	prefetcher := assets.NewPrefetcher(fetcher, assets.PrefetcherConfig{
		QueueSize: cfg.PrefetchQueueSize,
		Workers:   cfg.PrefetchWorkers,
	}, logger)

	aggregator := audio.NewAggregator(fetcher, decoder.NewClockPlayer(logger), audio.Config{
		PollInterval: cfg.PollInterval,
		QueueSize:    cfg.EventQueueSize,
	}, logger)

	hubCtx, cancelHub := context.WithCancel(context.Background())
	hub := ws.NewHub(logger)
	go hub.Run(hubCtx)

	updates, unsubscribe := aggregator.Subscribe()
	go hub.ForwardAudioState(hubCtx, updates)

	tokens := auth.NewManager(cfg.JWTSecret, cfg.AccessTokenTTL)

	deps := handlers.Dependencies{
		Audio:      aggregator,
		Prefetcher: prefetcher,
		Messages:   messages,
		Limiter:    middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitIdleTTL),
		Verifier:   tokens,
		Stream: &ws.Handler{
			Hub:            hub,
			Audio:          aggregator,
			Prefetcher:     prefetcher,
			Expirations:    messages,
			OriginPatterns: cfg.WSOriginPatterns,
		},
	}

	cleanup := func(ctx context.Context) error {
		unsubscribe()
		closeErr := aggregator.Close(ctx)
		cancelHub()
		prefetchErr := prefetcher.Shutdown(ctx)
		fetcher.Purge()
		if closeErr != nil {
			return fmt.Errorf("close audio aggregator: %w", closeErr)
		}
		if prefetchErr != nil {
			return fmt.Errorf("stop asset prefetcher: %w", prefetchErr)
		}
		return nil
	}

	return deps, cleanup, nil
}
