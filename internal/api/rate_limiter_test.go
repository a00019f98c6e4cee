package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientAddressPrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest("POST", "/events", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Real-IP", "198.51.100.4")
	req.RemoteAddr = "127.0.0.1:1234"

	if got := clientAddress(req); got != "203.0.113.9" {
		t.Fatalf("expected forwarded IP, got %q", got)
	}
}

func TestClientAddressFallsBackToRemoteHost(t *testing.T) {
	req := httptest.NewRequest("POST", "/events", nil)
	req.RemoteAddr = "192.0.2.7:5555"

	if got := clientAddress(req); got != "192.0.2.7" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestRateLimiterBlocksExcessBurst(t *testing.T) {
	limiter := newClientRateLimiter(1, 1, nil)
	if limiter == nil {
		t.Fatal("expected limiter to be created")
	}

	if !limiter.allow("192.0.2.10") {
		t.Fatal("first request should be allowed")
	}
	if limiter.allow("192.0.2.10") {
		t.Fatal("second immediate request should be rate limited")
	}
	if !limiter.allow("192.0.2.11") {
		t.Fatal("other clients keep their own bucket")
	}
}

func TestRateLimiterDisabledWithoutBurst(t *testing.T) {
	if limiter := newClientRateLimiter(5, 0, nil); limiter != nil {
		t.Fatal("expected nil limiter when burst is zero")
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	limiter := newClientRateLimiter(1, 1, nil)
	current := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return current }

	limiter.allow("192.0.2.10")
	current = current.Add(11 * time.Minute)
	limiter.allow("192.0.2.11")

	if got := limiter.tracked(); got != 1 {
		t.Fatalf("expected idle client to be evicted, tracked=%d", got)
	}
}

func TestRateLimiterMiddlewareExemptsHealth(t *testing.T) {
	limiter := newClientRateLimiter(1, 1, nil)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if recorder.Code != http.StatusNoContent {
			t.Fatalf("health check %d limited: %d", i, recorder.Code)
		}
	}

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/events", nil))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/events", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After header")
	}
}
