package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// clientRateLimiter keeps one token bucket per client address. Health and
// metrics endpoints are never limited.
type clientRateLimiter struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
	clients  map[string]*rate.Limiter
	lastSeen map[string]time.Time
	exempt   map[string]struct{}
	log      logrus.FieldLogger
}

func newClientRateLimiter(requestsPerSec float64, burst int, log logrus.FieldLogger) *clientRateLimiter {
	if requestsPerSec <= 0 || burst <= 0 {
		return nil
	}

	return &clientRateLimiter{
		rps:      rate.Limit(requestsPerSec),
		burst:    burst,
		ttl:      10 * time.Minute,
		now:      time.Now,
		clients:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		exempt:   map[string]struct{}{"/healthz": {}, "/metrics": {}},
		log:      log,
	}
}

func (l *clientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := l.exempt[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		client := clientAddress(r)
		if !l.allow(client) {
			if l.log != nil {
				l.log.WithFields(logrus.Fields{"client": client, "path": r.URL.Path}).Warn("rate limit exceeded")
			}
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *clientRateLimiter) allow(clientID string) bool {
	if clientID == "" {
		clientID = "unknown"
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.clients[clientID]
	if !exists {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.clients[clientID] = limiter
	}
	l.lastSeen[clientID] = now
	l.evictLocked(now)

	return limiter.AllowN(now, 1)
}

func (l *clientRateLimiter) evictLocked(now time.Time) {
	for key, seenAt := range l.lastSeen {
		if now.Sub(seenAt) > l.ttl {
			delete(l.lastSeen, key)
			delete(l.clients, key)
		}
	}
}

func (l *clientRateLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func clientAddress(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}

	return strings.TrimSpace(r.RemoteAddr)
}
