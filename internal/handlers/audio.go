package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quietwire/client/internal/assets"
	"github.com/quietwire/client/internal/audio"
	"github.com/quietwire/client/internal/logging"
)

const (
	maxPrefetchBatch    = 20
	prefetchEnqueueWait = 2 * time.Second
)

// AudioHandler exposes playback control for voice messages.
type AudioHandler struct {
	Audio      AudioController
	Prefetcher AssetPrefetcher
	Limiter    RateLimiter
}

type playRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type seekRequest struct {
	MessageID  string `json:"messageId"`
	PositionMs *int   `json:"positionMs"`
}

type prefetchRequest struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

type audioStateResponse struct {
	Tracks audio.State `json:"tracks"`
}

// Play handles POST /api/v1/audio/play. A request for the track that is
// already active toggles between playing and paused.
func (h AudioHandler) Play(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, span := logging.StartSpan(r.Context(), "audio.play")
	defer span.End()
	logger := logging.FromContext(ctx)

	if !h.ready(ctx, w, r) {
		return
	}

	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid play payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.ConversationID = strings.TrimSpace(req.ConversationID)
	req.MessageID = strings.TrimSpace(req.MessageID)
	if req.ConversationID == "" || req.MessageID == "" {
		respondError(ctx, w, http.StatusBadRequest, "conversationId and messageId are required")
		return
	}

	if err := h.Audio.RequestPlayback(ctx, req.ConversationID, req.MessageID); err != nil {
		h.controlFailed(ctx, w, "play", err)
		return
	}

	respondJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Seek handles POST /api/v1/audio/seek.
func (h AudioHandler) Seek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, span := logging.StartSpan(r.Context(), "audio.seek")
	defer span.End()
	logger := logging.FromContext(ctx)

	if !h.ready(ctx, w, r) {
		return
	}

	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid seek payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.MessageID = strings.TrimSpace(req.MessageID)
	if req.MessageID == "" || req.PositionMs == nil {
		respondError(ctx, w, http.StatusBadRequest, "messageId and positionMs are required")
		return
	}

	if err := h.Audio.SetPosition(ctx, req.MessageID, *req.PositionMs); err != nil {
		h.controlFailed(ctx, w, "seek", err)
		return
	}

	respondJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Stop handles POST /api/v1/audio/stop.
func (h AudioHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, span := logging.StartSpan(r.Context(), "audio.stop")
	defer span.End()

	if !h.ready(ctx, w, r) {
		return
	}

	if err := h.Audio.Stop(ctx); err != nil {
		h.controlFailed(ctx, w, "stop", err)
		return
	}

	respondJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// State handles GET /api/v1/audio/state.
func (h AudioHandler) State(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if !h.ready(ctx, w, r) {
		return
	}

	tracks := h.Audio.Snapshot()
	if tracks == nil {
		tracks = audio.State{}
	}
	respondJSON(ctx, w, http.StatusOK, audioStateResponse{Tracks: tracks})
}

// Prefetch handles POST /api/v1/audio/prefetch, warming the local cache for
// clips the user is likely to play next.
func (h AudioHandler) Prefetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, span := logging.StartSpan(r.Context(), "audio.prefetch")
	defer span.End()
	logger := logging.FromContext(ctx)

	if h.Prefetcher == nil {
		logger.Error("asset prefetcher unavailable")
		respondError(ctx, w, http.StatusServiceUnavailable, "prefetch unavailable")
		return
	}
	if !allowRequest(h.Limiter, r, "audio") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req prefetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid prefetch payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ConversationID) == "" || len(req.MessageIDs) == 0 {
		respondError(ctx, w, http.StatusBadRequest, "conversationId and messageIds are required")
		return
	}
	if len(req.MessageIDs) > maxPrefetchBatch {
		respondError(ctx, w, http.StatusBadRequest, fmt.Sprintf("at most %d messageIds per request", maxPrefetchBatch))
		return
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, prefetchEnqueueWait)
	defer cancel()

	queued := 0
	for _, id := range req.MessageIDs {
		if err := h.Prefetcher.Enqueue(enqueueCtx, strings.TrimSpace(req.ConversationID), strings.TrimSpace(id)); err != nil {
			if errors.Is(err, assets.ErrInvalidIdentifier) {
				respondError(ctx, w, http.StatusBadRequest, err.Error())
				return
			}
			logger.Warn("prefetch enqueue failed", "messageId", id, "error", err)
			break
		}
		queued++
	}

	respondJSON(ctx, w, http.StatusAccepted, map[string]int{"queued": queued})
}

func (h AudioHandler) ready(ctx context.Context, w http.ResponseWriter, r *http.Request) bool {
	if h.Audio == nil {
		logging.FromContext(ctx).Error("audio controller unavailable")
		respondError(ctx, w, http.StatusServiceUnavailable, "audio playback unavailable")
		return false
	}
	if !allowRequest(h.Limiter, r, "audio") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return false
	}
	return true
}

func (h AudioHandler) controlFailed(ctx context.Context, w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, audio.ErrInvalidTrack):
		respondError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, audio.ErrAggregatorClosed):
		respondError(ctx, w, http.StatusServiceUnavailable, "audio playback is shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logging.FromContext(ctx).Warn("audio control abandoned", "action", action, "error", err)
		respondError(ctx, w, http.StatusServiceUnavailable, "audio playback busy")
	default:
		logging.FromContext(ctx).Error("audio control failed", "action", action, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "audio control failed")
	}
}
