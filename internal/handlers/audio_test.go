package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quietwire/client/internal/assets"
	"github.com/quietwire/client/internal/audio"
)

type audioControllerStub struct {
	conversationID string
	trackID        string
	positionMs     int
	stops          int
	state          audio.State
	err            error
}

func (s *audioControllerStub) RequestPlayback(_ context.Context, conversationID, trackID string) error {
	s.conversationID = conversationID
	s.trackID = trackID
	return s.err
}

func (s *audioControllerStub) SetPosition(_ context.Context, trackID string, positionMs int) error {
	s.trackID = trackID
	s.positionMs = positionMs
	return s.err
}

func (s *audioControllerStub) Stop(context.Context) error {
	s.stops++
	return s.err
}

func (s *audioControllerStub) Snapshot() audio.State {
	return s.state
}

type prefetcherStub struct {
	queued []string
	failAt int
}

func (p *prefetcherStub) Enqueue(_ context.Context, conversationID, trackID string) error {
	if trackID == "" || trackID == ".." {
		return assets.ErrInvalidIdentifier
	}
	if p.failAt > 0 && len(p.queued) == p.failAt {
		return assets.ErrPrefetcherClosed
	}
	p.queued = append(p.queued, conversationID+"/"+trackID)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

func TestAudioHandlerPlay(t *testing.T) {
	controller := &audioControllerStub{}
	handler := AudioHandler{Audio: controller}

	body, _ := json.Marshal(playRequest{ConversationID: "conv-1", MessageID: "msg-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/audio/play", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Play(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d got %d", http.StatusAccepted, rec.Code)
	}
	if controller.conversationID != "conv-1" || controller.trackID != "msg-1" {
		t.Fatalf("unexpected playback request %+v", controller)
	}
}

func TestAudioHandlerPlayValidation(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		err    error
		want   int
	}{
		{name: "wrong method", method: http.MethodGet, want: http.StatusMethodNotAllowed},
		{name: "invalid json", method: http.MethodPost, body: "{", want: http.StatusBadRequest},
		{name: "missing message", method: http.MethodPost, body: `{"conversationId":"conv-1"}`, want: http.StatusBadRequest},
		{name: "closed", method: http.MethodPost, body: `{"conversationId":"c","messageId":"m"}`, err: audio.ErrAggregatorClosed, want: http.StatusServiceUnavailable},
		{name: "invalid track", method: http.MethodPost, body: `{"conversationId":"c","messageId":"m"}`, err: audio.ErrInvalidTrack, want: http.StatusBadRequest},
		{name: "internal", method: http.MethodPost, body: `{"conversationId":"c","messageId":"m"}`, err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AudioHandler{Audio: &audioControllerStub{err: tt.err}}
			req := httptest.NewRequest(tt.method, "/api/v1/audio/play", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			handler.Play(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected status %d got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestAudioHandlerSeek(t *testing.T) {
	controller := &audioControllerStub{}
	handler := AudioHandler{Audio: controller}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/audio/seek", bytes.NewBufferString(`{"messageId":"msg-1","positionMs":0}`))
	rec := httptest.NewRecorder()

	handler.Seek(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d got %d", http.StatusAccepted, rec.Code)
	}
	if controller.trackID != "msg-1" || controller.positionMs != 0 {
		t.Fatalf("unexpected seek %+v", controller)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/audio/seek", bytes.NewBufferString(`{"messageId":"msg-1"}`))
	rec = httptest.NewRecorder()

	handler.Seek(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected missing position to be rejected got %d", rec.Code)
	}
}

func TestAudioHandlerStopAndState(t *testing.T) {
	controller := &audioControllerStub{state: audio.State{
		"msg-1": {State: audio.StatePlaying, CurrentPositionMs: 1200, TotalTime: audio.KnownTotalTime(3000)},
	}}
	handler := AudioHandler{Audio: controller}

	rec := httptest.NewRecorder()
	handler.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audio/stop", nil))
	if rec.Code != http.StatusAccepted || controller.stops != 1 {
		t.Fatalf("unexpected stop result: status %d stops %d", rec.Code, controller.stops)
	}

	rec = httptest.NewRecorder()
	handler.State(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audio/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp audioStateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	record, ok := resp.Tracks["msg-1"]
	if !ok || record.State != audio.StatePlaying || record.CurrentPositionMs != 1200 || !record.TotalTime.Known {
		t.Fatalf("unexpected state response %+v", resp)
	}
}

func TestAudioHandlerRateLimitedAndUnavailable(t *testing.T) {
	handler := AudioHandler{Audio: &audioControllerStub{}, Limiter: denyLimiter{}}
	rec := httptest.NewRecorder()
	handler.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audio/stop", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 got %d", rec.Code)
	}

	handler = AudioHandler{}
	rec = httptest.NewRecorder()
	handler.State(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audio/state", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}
}

func TestAudioHandlerPrefetch(t *testing.T) {
	prefetcher := &prefetcherStub{}
	handler := AudioHandler{Audio: &audioControllerStub{}, Prefetcher: prefetcher}

	body := `{"conversationId":"conv-1","messageIds":["msg-1","msg-2"]}`
	rec := httptest.NewRecorder()
	handler.Prefetch(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audio/prefetch", bytes.NewBufferString(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d got %d", http.StatusAccepted, rec.Code)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["queued"] != 2 || len(prefetcher.queued) != 2 || prefetcher.queued[1] != "conv-1/msg-2" {
		t.Fatalf("unexpected prefetch result %v %v", resp, prefetcher.queued)
	}

	prefetcher = &prefetcherStub{failAt: 1}
	handler.Prefetcher = prefetcher
	rec = httptest.NewRecorder()
	handler.Prefetch(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audio/prefetch", bytes.NewBufferString(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d got %d", http.StatusAccepted, rec.Code)
	}
	resp = nil
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["queued"] != 1 {
		t.Fatalf("expected partial prefetch got %v", resp)
	}
}

func TestAudioHandlerPrefetchValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "invalid json", body: "{", want: http.StatusBadRequest},
		{name: "no messages", body: `{"conversationId":"conv-1"}`, want: http.StatusBadRequest},
		{name: "invalid id", body: `{"conversationId":"conv-1","messageIds":[".."]}`, want: http.StatusBadRequest},
		{name: "batch too large", body: `{"conversationId":"c","messageIds":["1","2","3","4","5","6","7","8","9","10","11","12","13","14","15","16","17","18","19","20","21"]}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AudioHandler{Prefetcher: &prefetcherStub{}}
			rec := httptest.NewRecorder()
			handler.Prefetch(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audio/prefetch", bytes.NewBufferString(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("expected status %d got %d", tt.want, rec.Code)
			}
		})
	}

	rec := httptest.NewRecorder()
	AudioHandler{}.Prefetch(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audio/prefetch", bytes.NewBufferString(`{}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}
}
