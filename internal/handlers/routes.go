package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quietwire/client/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{}
	playback := AudioHandler{Audio: deps.Audio, Prefetcher: deps.Prefetcher, Limiter: deps.Limiter}
	messages := MessageHandler{Messages: deps.Messages, Limiter: deps.Limiter, NowFunc: deps.NowFunc}

	protect := requireAuth(deps.Verifier)

	mux.HandleFunc("/healthz", health.Handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/v1/audio/play", protect(http.HandlerFunc(playback.Play)))
	mux.Handle("/api/v1/audio/seek", protect(http.HandlerFunc(playback.Seek)))
	mux.Handle("/api/v1/audio/stop", protect(http.HandlerFunc(playback.Stop)))
	mux.Handle("/api/v1/audio/state", protect(http.HandlerFunc(playback.State)))
	mux.Handle("/api/v1/audio/prefetch", protect(http.HandlerFunc(playback.Prefetch)))
	mux.Handle("/api/v1/messages/{id}/countdown", protect(http.HandlerFunc(messages.Countdown)))
	mux.Handle("/api/v1/messages/{id}/deletion", protect(http.HandlerFunc(messages.StartDeletion)))
	if deps.Stream != nil {
		mux.Handle("/api/v1/ws", protect(deps.Stream))
	}
}

func requireAuth(verifier middleware.TokenVerifier) func(http.Handler) http.Handler {
	if verifier == nil {
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				respondError(r.Context(), w, http.StatusServiceUnavailable, "authentication unavailable")
			})
		}
	}
	return middleware.Authenticate(verifier)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Audio      AudioController
	Prefetcher AssetPrefetcher
	Messages   MessageStore
	Limiter    RateLimiter
	Verifier   middleware.TokenVerifier
	Stream     http.Handler
	NowFunc    func() time.Time
}
