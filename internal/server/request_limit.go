package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// requestLimit is a per-client token-bucket middleware for the admin surface.
// In-memory is fine here: the admin server is single-process and the buckets
// protect it, not the verification flow.
func requestLimit(rps, burst float64) func(http.Handler) http.Handler {
	rl := &requestLimiter{
		rps:   rps,
		burst: burst,
		bkt:   map[string]*bucket{},
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(clientKey(r), time.Now()) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type bucket struct {
	tokens float64
	last   time.Time
}

type requestLimiter struct {
	mu    sync.Mutex
	rps   float64
	burst float64
	bkt   map[string]*bucket
}

func (rl *requestLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b := rl.bkt[key]
	if b == nil {
		b = &bucket{tokens: rl.burst, last: now}
		rl.bkt[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * rl.rps
		if b.tokens > rl.burst {
			b.tokens = rl.burst
		}
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
