package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/quietwire/client/internal/logging"
	"github.com/quietwire/client/internal/repositories"
	"github.com/quietwire/client/internal/selfdeletion"
)

// MessageHandler serves the self-deletion state of messages.
type MessageHandler struct {
	Messages MessageStore
	Limiter  RateLimiter
	NowFunc  func() time.Time
}

type countdownResponse struct {
	MessageID         string     `json:"messageId"`
	Expirable         bool       `json:"expirable"`
	Label             string     `json:"label,omitempty"`
	TimeLeftMs        int64      `json:"timeLeftMs"`
	UpdateIntervalMs  int64      `json:"updateIntervalMs"`
	Alpha             float32    `json:"alpha"`
	Expired           bool       `json:"expired"`
	DeletionStartedAt *time.Time `json:"deletionStartedAt,omitempty"`
}

// Countdown handles GET /api/v1/messages/{id}/countdown.
func (h MessageHandler) Countdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, span := logging.StartSpan(r.Context(), "messages.countdown")
	defer span.End()
	logger := logging.FromContext(ctx)

	if h.Messages == nil {
		logger.Error("message store unavailable")
		respondError(ctx, w, http.StatusServiceUnavailable, "message service unavailable")
		return
	}
	if !allowRequest(h.Limiter, r, "messages") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	messageID := strings.TrimSpace(r.PathValue("id"))
	if messageID == "" {
		respondError(ctx, w, http.StatusBadRequest, "message id is required")
		return
	}

	cfg, err := h.Messages.FindExpiration(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "message not found")
			return
		}
		logger.Error("lookup message expiration", "messageId", messageID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load message")
		return
	}

	respondJSON(ctx, w, http.StatusOK, h.countdown(messageID, cfg))
}

// StartDeletion handles POST /api/v1/messages/{id}/deletion. The first call
// starts the deletion clock; repeated calls report the running countdown.
func (h MessageHandler) StartDeletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, span := logging.StartSpan(r.Context(), "messages.start_deletion")
	defer span.End()
	logger := logging.FromContext(ctx)

	if h.Messages == nil {
		logger.Error("message store unavailable")
		respondError(ctx, w, http.StatusServiceUnavailable, "message service unavailable")
		return
	}
	if !allowRequest(h.Limiter, r, "messages") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	messageID := strings.TrimSpace(r.PathValue("id"))
	if messageID == "" {
		respondError(ctx, w, http.StatusBadRequest, "message id is required")
		return
	}

	cfg, err := h.Messages.FindExpiration(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "message not found")
			return
		}
		logger.Error("lookup message expiration", "messageId", messageID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load message")
		return
	}
	if !cfg.Expirable() {
		respondError(ctx, w, http.StatusConflict, "message does not self-delete")
		return
	}

	startedAt, err := h.Messages.StartDeletion(ctx, messageID, h.now())
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "message not found")
			return
		}
		logger.Error("start message deletion", "messageId", messageID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to start deletion")
		return
	}
	cfg.DeletionStartedAt = &startedAt

	logger.Info("message deletion started", "messageId", messageID, "startedAt", startedAt)
	respondJSON(ctx, w, http.StatusOK, h.countdown(messageID, cfg))
}

func (h MessageHandler) countdown(messageID string, cfg selfdeletion.ExpirationConfig) countdownResponse {
	countdown, ok := selfdeletion.FromExpirationConfig(cfg, h.now())
	if !ok {
		return countdownResponse{MessageID: messageID}
	}

	snapshot := countdown.Snapshot()
	return countdownResponse{
		MessageID:         messageID,
		Expirable:         true,
		Label:             snapshot.Label,
		TimeLeftMs:        snapshot.TimeLeft.Milliseconds(),
		UpdateIntervalMs:  snapshot.UpdateInterval.Milliseconds(),
		Alpha:             snapshot.Alpha,
		Expired:           countdown.Expired(),
		DeletionStartedAt: cfg.DeletionStartedAt,
	}
}

func (h MessageHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
