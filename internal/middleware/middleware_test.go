package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubVerifier struct {
	tokens map[string]string
}

func (s stubVerifier) Verify(token string) (string, error) {
	userID, ok := s.tokens[token]
	if !ok {
		return "", errors.New("unknown token")
	}
	return userID, nil
}

func TestAuthenticate(t *testing.T) {
	verifier := stubVerifier{tokens: map[string]string{"good": "user-1"}}

	var seen string
	handler := Authenticate(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{name: "bearer header", header: "Bearer good", status: http.StatusNoContent},
		{name: "query token", query: "?token=good", status: http.StatusNoContent},
		{name: "missing token", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", status: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer bad", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/audio/state"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d got %d", tt.status, rec.Code)
			}
			if tt.status == http.StatusNoContent && seen != "user-1" {
				t.Fatalf("expected user id on context got %q", seen)
			}
		})
	}
}

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected recovered panic to return 500 got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id to be echoed got %q", got)
	}
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(1, 2, time.Minute).(*ipRateLimiter)

	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	limiter.WithNowFunc(func() time.Time { return now })

	if !limiter.Allow("10.0.0.1") || !limiter.Allow("10.0.0.1") {
		t.Fatal("expected burst to be allowed")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("expected third request to be limited")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatal("expected independent budget per key")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("10.0.0.1") {
		t.Fatal("expected token to refill after one second")
	}

	now = now.Add(2 * time.Minute)
	limiter.Allow("10.0.0.3")
	limiter.mu.Lock()
	_, stale := limiter.visitors["10.0.0.1"]
	limiter.mu.Unlock()
	if stale {
		t.Fatal("expected idle visitor to be collected")
	}
}
